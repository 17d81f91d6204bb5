// Package parser extracts game records from schedule grid HTML.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Default grid layouts observed on the source site. The aggregate day view
// and the per-league view render different GridView controls, so both
// selectors are tried in order.
var defaultGridSelectors = []string{
	"#ctl00_c_Schedule1_GridView1",
	"#ctl00_ContentPlaceHolder1_gvGames",
}

const (
	defaultTimesSelector    = "table.ezl-base-table.league-border-color.mb-0.w-100 tr"
	defaultTimeLayout       = "3:04 PM"
	defaultDateTimeLayout   = "1/2/2006 3:04 PM"
	defaultMinColumns       = 7
	defaultMinLeagueColumns = 5
)

// Config controls grid discovery and row extraction.
type Config struct {
	GridSelectors    []string
	TimesSelector    string
	MinColumns       int
	MinLeagueColumns int
	TimeLayout       string
	DateTimeLayout   string
}

// Parser turns schedule grid HTML into GameRecords.
type Parser struct {
	cfg    Config
	logger *zap.Logger
}

// ParsedDay is the result of parsing one date's aggregate page. GamesFound is
// false when the page has no schedule grid at all, which is a successful
// zero-game day, not an error.
type ParsedDay struct {
	GamesFound bool
	Games      []schedule.GameRecord
	Leagues    []schedule.LeagueRef
}

// New builds a Parser, filling zero-value config fields with defaults.
func New(cfg Config, logger *zap.Logger) *Parser {
	if len(cfg.GridSelectors) == 0 {
		cfg.GridSelectors = defaultGridSelectors
	}
	if cfg.TimesSelector == "" {
		cfg.TimesSelector = defaultTimesSelector
	}
	if cfg.MinColumns <= 0 {
		cfg.MinColumns = defaultMinColumns
	}
	if cfg.MinLeagueColumns <= 0 {
		cfg.MinLeagueColumns = defaultMinLeagueColumns
	}
	if cfg.TimeLayout == "" {
		cfg.TimeLayout = defaultTimeLayout
	}
	if cfg.DateTimeLayout == "" {
		cfg.DateTimeLayout = defaultDateTimeLayout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{cfg: cfg, logger: logger.Named("parser")}
}

// ParseDay extracts every game row from the date's aggregate page and
// collects per-league grid links for follow-up fetches.
func (p *Parser) ParseDay(date time.Time, html []byte) (ParsedDay, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ParsedDay{}, fmt.Errorf("parse day page: %w", err)
	}
	grid := p.findGrid(doc)
	if grid == nil {
		p.logger.Warn("no schedule grid found", zap.String("date", schedule.DateKey(date)))
		return ParsedDay{GamesFound: false}, nil
	}

	kickoffs := p.collectKickoffTimes(doc)

	result := ParsedDay{GamesFound: true}
	seenLeagues := make(map[string]bool)
	grid.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < p.cfg.MinColumns {
			return
		}
		rec, ref := p.parseAggregateRow(date, cells, kickoffs)
		result.Games = append(result.Games, rec)
		if ref != nil && !seenLeagues[ref.ID] {
			seenLeagues[ref.ID] = true
			result.Leagues = append(result.Leagues, *ref)
		}
	})

	p.logger.Debug("parsed day grid",
		zap.String("date", schedule.DateKey(date)),
		zap.Int("games", len(result.Games)),
		zap.Int("leagues", len(result.Leagues)))
	return result, nil
}

// ParseLeague extracts game rows from a per-league grid. League rows carry
// their own date cell; rows with unparsable date+time text are dropped and
// logged, never fatal.
func (p *Parser) ParseLeague(league string, html []byte) ([]schedule.GameRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse league page: %w", err)
	}
	grid := p.findGrid(doc)
	if grid == nil {
		return nil, nil
	}

	var games []schedule.GameRecord
	grid.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < p.cfg.MinLeagueColumns {
			return
		}
		dateText := cellText(cells.Eq(0))
		timeText := cellText(cells.Eq(1))
		if dateText == "" || timeText == "" {
			return
		}
		dt, err := time.ParseInLocation(p.cfg.DateTimeLayout, dateText+" "+timeText, time.UTC)
		if err != nil {
			p.logger.Warn("dropping league row with unparsable date",
				zap.String("league", league),
				zap.String("date_text", dateText),
				zap.String("time_text", timeText))
			return
		}
		games = append(games, schedule.GameRecord{
			Date:     dt.Format(schedule.DateLayout),
			League:   league,
			HomeTeam: cellText(cells.Eq(2)),
			AwayTeam: cellText(cells.Eq(3)),
			Venue:    cellText(cells.Eq(4)),
			Time:     &dt,
			Status:   "Scheduled",
		})
	})
	return games, nil
}

func (p *Parser) findGrid(doc *goquery.Document) *goquery.Selection {
	for _, sel := range p.cfg.GridSelectors {
		if grid := doc.Find(sel).First(); grid.Length() > 0 {
			return grid
		}
	}
	return nil
}

// collectKickoffTimes reads the side events table mapping venue to kickoff
// time, used for completed games whose status cell no longer shows a time.
func (p *Parser) collectKickoffTimes(doc *goquery.Document) map[string]string {
	kickoffs := make(map[string]string)
	doc.Find(p.cfg.TimesSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(`td[align="left"]`)
		if cells.Length() < 2 {
			return
		}
		start := cellText(cells.Eq(0))
		if start == "" {
			return
		}
		venue := ""
		if cells.Length() > 3 {
			venue = cellText(cells.Eq(3))
		}
		kickoffs[venue] = start
	})
	return kickoffs
}

func (p *Parser) parseAggregateRow(date time.Time, cells *goquery.Selection, kickoffs map[string]string) (schedule.GameRecord, *schedule.LeagueRef) {
	leagueAnchor := cells.Eq(0).Find("a").First()
	leagueText := strings.TrimSpace(leagueAnchor.Text())
	league, session := splitLeagueSession(leagueText)

	homeScore, awayScore := p.parseScores(strings.TrimSpace(cells.Eq(2).Find("span").First().Text()))

	venue := anchorText(cells.Eq(5))
	statusText := anchorText(cells.Eq(4))
	var status, timeText string
	if strings.Contains(statusText, "AM") || strings.Contains(statusText, "PM") {
		status = "Scheduled"
		timeText = statusText
	} else {
		status = statusText
		timeText = kickoffs[venue]
	}

	rec := schedule.GameRecord{
		Date:      schedule.DateKey(date),
		League:    league,
		Session:   session,
		HomeTeam:  anchorText(cells.Eq(1)),
		AwayTeam:  anchorText(cells.Eq(3)),
		HomeScore: homeScore,
		AwayScore: awayScore,
		Venue:     venue,
		Officials: cellText(cells.Eq(6)),
		Status:    status,
	}
	rec.Time = p.kickoff(date, timeText)

	var ref *schedule.LeagueRef
	if href, ok := leagueAnchor.Attr("href"); ok {
		ref = leagueRefFrom(leagueText, href)
	}
	return rec, ref
}

// kickoff combines the day with a clock like "7:00 PM". Empty or unparsable
// text yields a nil time and keeps the record.
func (p *Parser) kickoff(date time.Time, text string) *time.Time {
	if text == "" {
		return nil
	}
	clock, err := time.Parse(p.cfg.TimeLayout, text)
	if err != nil {
		p.logger.Debug("unparsable kickoff time", zap.String("text", text))
		return nil
	}
	t := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
	return &t
}

func (p *Parser) parseScores(text string) (*int, *int) {
	if text == "" || !strings.Contains(text, " - ") {
		return nil, nil
	}
	parts := strings.SplitN(text, " - ", 2)
	home, homeErr := strconv.Atoi(strings.TrimSpace(parts[0]))
	away, awayErr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if homeErr != nil || awayErr != nil {
		p.logger.Warn("could not parse scores", zap.String("text", text))
		return nil, nil
	}
	return &home, &away
}

// splitLeagueSession separates a quoted division league name like
// `Mens Open "C" Indoor session 2 2025` into league and session parts.
func splitLeagueSession(text string) (string, string) {
	if !strings.Contains(text, `"`) {
		return text, ""
	}
	parts := strings.SplitN(text, `"`, 3)
	if len(parts) < 3 {
		return text, ""
	}
	restFields := strings.Split(parts[2], " ")
	first := ""
	if len(restFields) > 0 {
		first = restFields[0]
	}
	league := strings.TrimSpace(parts[0] + parts[1] + first)
	session := ""
	if len(restFields) > 1 {
		session = strings.TrimSpace(strings.Join(restFields[1:], " "))
	}
	return league, session
}

func leagueRefFrom(name, href string) *schedule.LeagueRef {
	u, err := url.Parse(href)
	if err != nil {
		return nil
	}
	id := u.Query().Get("league_id")
	if id == "" {
		return nil
	}
	return &schedule.LeagueRef{ID: id, Name: name, URL: href}
}

func anchorText(cell *goquery.Selection) string {
	return strings.TrimSpace(cell.Find("a").First().Text())
}

func cellText(cell *goquery.Selection) string {
	return strings.TrimSpace(cell.Text())
}

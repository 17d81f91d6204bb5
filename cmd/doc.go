// Package cmd implements the schedpipe command line interface.
//
// The root command loads configuration, builds the service container, and
// stores it in the command context; subcommands pull it back out:
//
//	schedpipe scrape --date 2023-02-14
//	schedpipe scrape --start 2023-01-01 --end 2023-06-30 --force
//	schedpipe scrape --year 2023 --month 2 --from-raw
//	schedpipe verify --start 2023-01-01 --end 2023-01-31
//	schedpipe serve --config /etc/schedpipe/config.yaml
//
// Scrape and verify print their result envelope as JSON and exit non-zero
// when the run failed or coverage is incomplete.
package cmd

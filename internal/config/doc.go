// Package config loads the YAML configuration: where data lives, how often
// feeds refresh, how politely the upstream site is scraped, which feeds
// exist and how new events are announced.
//
// Example:
//
//	data_dir: ~/.local/share/eventfeeds
//	refresh: "*/30 * * * *"
//	refresh_timeout: 10m
//	scrape:
//	  concurrency: 4
//	  rate_per_second: 2
//	feeds:
//	  - name: openlands
//	    adapter: openlands
//	    endpoint: https://www.cervistech.com/acts/webreg/eventwebreglist.php?org_id=0254
//
// Watch re-reads the file on change for long-running processes.
package config

// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagGops, flagLogDateTime bool
	flagConfigFile            string
	flagLogLevel              string
	flagGenToken              string
)

func cliInit() {
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to config.json")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info, notice, warn, err, crit]`")
	flag.StringVar(&flagGenToken, "gen-token", "", "Print a bearer JWT for the given operator `actor` name and exit")
	flag.Parse()
}

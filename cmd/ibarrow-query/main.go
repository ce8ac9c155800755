// Copyright 2024 the ibarrow contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// ibarrow-query runs one SQL query against an ODBC data source and
// writes the result to stdout (or a file) as an Arrow IPC stream.
//
//	ibarrow-query -dsn mydsn -user alice "SELECT * FROM t"
//
// The password is read from the IBARROW_PASSWORD environment variable
// so it never appears in the process list.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ibarrow/ibarrow-go"
)

func main() {
	var (
		dsn          = flag.String("dsn", "", "data source: DSN name, file path, or full connection string")
		user         = flag.String("user", "", "user name")
		driver       = flag.String("driver", ibarrow.DefaultDriverName, "database/sql driver name")
		output       = flag.String("o", "", "output file (default stdout)")
		batchSize    = flag.Int("batch-size", ibarrow.DefaultBatchSize, "rows per record batch")
		queueDepth   = flag.Int("queue-depth", ibarrow.DefaultQueueDepth, "in-flight batches between fetch and encode")
		maxText      = flag.Int("max-text-size", ibarrow.DefaultMaxTextSize, "text column byte limit")
		maxBinary    = flag.Int("max-binary-size", ibarrow.DefaultMaxBinarySize, "binary column byte limit")
		connTimeout  = flag.Duration("connect-timeout", ibarrow.DefaultConnectionTimeout, "connection timeout")
		queryTimeout = flag.Duration("query-timeout", 0, "query timeout (0 = none)")
		readOnly     = flag.Bool("read-only", false, "open the session read-only")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <query>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *dsn == "" || flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	query := flag.Arg(0)

	cfg := &ibarrow.QueryConfig{
		BatchSize:         *batchSize,
		QueueDepth:        *queueDepth,
		MaxTextSize:       *maxText,
		MaxBinarySize:     *maxBinary,
		ReadOnly:          *readOnly,
		ConnectionTimeout: *connTimeout,
		QueryTimeout:      *queryTimeout,
		DriverName:        *driver,
	}

	if err := run(context.Background(), *dsn, *user, os.Getenv("IBARROW_PASSWORD"), query, *output, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, dsn, user, password, query, output string, cfg *ibarrow.QueryConfig) error {
	conn, err := ibarrow.Connect(ctx, dsn, user, password, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	start := time.Now()
	if err := conn.QueryStream(ctx, w, query); err != nil {
		return err
	}
	log.Printf("query streamed in %s", time.Since(start))
	return nil
}

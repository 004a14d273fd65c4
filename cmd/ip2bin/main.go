/*
 * Copyright (c) 2024 shenjunzheng@gmail.com
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command ip2bin is a small diagnostic CLI over pkg/bin: point it at a
// database file and an address, get back the resolved fields as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sjzar/ip2bin/pkg/bin"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ip2bin",
		Short: "Query IP2Location / IP2Proxy .BIN databases",
	}

	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().Int("pool", bin.DefaultPoolSize, "concurrent lookup slots to open")
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("pool", root.PersistentFlags().Lookup("pool"))
	viper.SetEnvPrefix("ip2bin")
	viper.AutomaticEnv()

	root.AddCommand(newLookupCmd())
	return root
}

func newLookupCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "lookup <db-path> <ip>",
		Short: "Resolve one IP address against a database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
				logrus.SetLevel(lvl)
			}

			dbPath, ip := args[0], args[1]

			db, err := bin.Open(dbPath, viper.GetInt("pool"))
			if err != nil {
				return fmt.Errorf("open %s: %w", dbPath, err)
			}
			defer db.Close()

			selected, err := parseFields(fields)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			res, err := db.LookupString(ctx, ip, selected...)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", ip, err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(toJSON(res))
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "limit output to these fields (default: all in schema)")
	return cmd
}

func parseFields(names []string) ([]bin.Field, error) {
	if len(names) == 0 {
		return nil, nil
	}
	byName := make(map[string]bin.Field)
	for f := bin.Field(1); f.String() != "unknown"; f++ {
		byName[f.String()] = f
	}

	out := make([]bin.Field, 0, len(names))
	for _, n := range names {
		f, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// resultJSON mirrors bin.Result but with string field keys, since JSON
// object keys can't be a custom integer type.
type resultJSON struct {
	Found  bool              `json:"found"`
	IPFrom string            `json:"ip_from,omitempty"`
	IPTo   string            `json:"ip_to,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func toJSON(res bin.Result) resultJSON {
	if !res.Found {
		return resultJSON{Found: false}
	}
	fields := make(map[string]string, len(res.Fields))
	for f, v := range res.Fields {
		fields[f.String()] = v.String()
	}
	return resultJSON{
		Found:  true,
		IPFrom: res.IPFrom.String(),
		IPTo:   res.IPTo.String(),
		Fields: fields,
	}
}

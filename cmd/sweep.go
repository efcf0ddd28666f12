/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// sweepCommands runs a sweep in the foreground. Ctrl-C stops it after in-flight
// transactions finish; running it again resumes from the checkpoint.
func sweepCommands(r *reconInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <connection-id>",
		Short: "resolve every unmatched transaction of a bank connection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := r.recon.Sweep(ctx, args[0])
			if result != nil {
				data, _ := json.MarshalIndent(result, "", "    ")
				fmt.Println(string(data))
			}
			if err != nil {
				log.Fatalf("sweep stopped: %v", err)
			}
		},
	}
}

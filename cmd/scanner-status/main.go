/*
 * Copyright 2025 Carver Automation Corporation.
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

// Command scanner-status is a live terminal dashboard over a running
// scanner's HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/example/portscanner/internal/tui"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8090", "scanner API base URL")
	flag.Parse()

	if err := tui.Run(*addr); err != nil {
		fmt.Fprintln(os.Stderr, "scanner-status:", err)
		os.Exit(1)
	}
}

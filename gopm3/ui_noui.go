// Copyright 2024 The Gopm3 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build plan9 || js

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newUICmd(*globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Interactive terminal interface (not available)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("terminal interface not available on this platform")
		},
	}
}

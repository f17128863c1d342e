/*
Copyright 2025 EPFL-ENAC.

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

// Package obslog configures the process-wide structured logger.
package obslog

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Component is the logrus field key under which a package identifies
// itself, mirroring the teacher's trace.Component convention.
const Component = "component"

// Init configures the standard logger for either CLI or service output
// and sets its minimum level. Unrecognized levels default to "info".
func Init(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// WithComponent returns a logger entry tagged with the given component
// name, the idiom used throughout every adapted package in this module.
func WithComponent(name string) *log.Entry {
	return log.WithField(Component, name)
}

// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sleepnet/hypersync/pkg/logging"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logging.New(&buf, logrus.InfoLevel)

	log.Debug("hidden")
	log.Infof("chunk %d stored", 7)
	log.WithField("channel", 1).Warning("slow peer")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line emitted at info level")
	}
	if !strings.Contains(out, "chunk 7 stored") {
		t.Error("info line missing")
	}
	if !strings.Contains(out, "channel=1") {
		t.Error("field missing from warning line")
	}
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	log := logging.NewNop()
	log.Error("dropped")
	log.WithFields(logrus.Fields{"a": 1}).Warning("dropped")
}

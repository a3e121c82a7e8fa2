// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

// Recorder: optional byte-faithful capture of sent and received payloads to
// disk, for replay testing (spec.md §4.8, §3's "Recording Session"). The
// sequence counter is process-global and shared between request and
// response files, per spec.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var recordingSeq int64 // process-global, monotonic across both directions

// recorder captures payloads under dir when enabled. A zero-value recorder
// (dir == "") is always disabled and record* calls are no-ops.
type recorder struct {
	enabled bool
	dir     string
	log     *logrus.Entry
}

// newRecorder enables recording under baseDir/{UTC timestamp} when baseDir
// is non-empty, matching IBAPI_RECORDING_DIR's contract. Failure to create
// the directory disables recording for this session and is logged, never
// fatal (spec.md §7's RecorderError policy).
func newRecorder(baseDir string, log *logrus.Entry) *recorder {
	if baseDir == "" {
		return &recorder{log: log}
	}
	sessionDir := filepath.Join(baseDir, recordingSessionName())
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		log.WithError(err).Warn("bus: failed to create recording directory, recording disabled")
		return &recorder{log: log}
	}
	return &recorder{enabled: true, dir: sessionDir, log: log}
}

func recordingSessionName() string {
	return time.Now().UTC().Format("2006-01-02-15-04")
}

func (r *recorder) recordRequest(payload []byte) {
	r.record(payload, "request")
}

func (r *recorder) recordResponse(payload []byte) {
	r.record(payload, "response")
}

func (r *recorder) record(payload []byte, direction string) {
	if !r.enabled {
		return
	}
	seq := atomic.AddInt64(&recordingSeq, 1) - 1
	name := fmt.Sprintf("%04d-%s.msg", seq, direction)
	path := filepath.Join(r.dir, name)
	contents := strings.ReplaceAll(string(payload), "\x00", "|")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		r.log.WithError(err).WithField("path", path).Warn("bus: recording write failed")
	}
}

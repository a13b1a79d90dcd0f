// Package preflight checks that a share store permits the operations
// publishing needs before any podcast is generated.
package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/quickcast/pkg/output"
	"github.com/3leaps/quickcast/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModePlanOnly   Mode = "plan-only"
	ModeReadSafe   Mode = "read-safe"
	ModeWriteProbe Mode = "write-probe"
)

// DefaultProbePrefix is where write probes are placed.
const DefaultProbePrefix = "_quickcast/probe/"

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode        Mode
	ProbePrefix string
}

// Capability names are stable strings used in JSONL output.
const (
	CapShareHead   = "share.head"
	CapShareLink   = "share.link"
	CapSharePut    = "share.put"
	CapShareDelete = "share.delete"
)

// ParseMode validates a mode name. An empty name selects ModeReadSafe.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeReadSafe, nil
	case ModePlanOnly, ModeReadSafe, ModeWriteProbe:
		return m, nil
	default:
		return "", fmt.Errorf("unknown preflight mode %q", s)
	}
}

// ShareStore runs the checks selected by spec against store. It returns the
// record even when a check fails; the error is the first failure.
func ShareStore(ctx context.Context, store provider.ObjectStore, backend string, spec Spec) (*output.PreflightRecord, error) {
	if spec.Mode == "" {
		spec.Mode = ModeReadSafe
	}
	if spec.ProbePrefix == "" {
		spec.ProbePrefix = DefaultProbePrefix
	}
	rec := &output.PreflightRecord{
		Backend: backend,
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}
	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	var errs []error
	check := func(capability, method string, err error) bool {
		res := output.PreflightCheckResult{Capability: capability, Method: method, Allowed: err == nil}
		if err != nil {
			res.ErrorCode = normalizeErrorCode(err)
			res.Detail = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", capability, err))
		}
		rec.Results = append(rec.Results, res)
		return err == nil
	}

	readKey := path.Join(spec.ProbePrefix, "absent.wav")
	_, err := store.Head(ctx, readKey)
	if provider.IsNotFound(err) {
		err = nil
	}
	check(CapShareHead, fmt.Sprintf("Head(%q)", readKey), err)

	_, err = store.URL(ctx, readKey, time.Minute)
	check(CapShareLink, "URL(ttl=1m)", err)

	if spec.Mode == ModeWriteProbe {
		writeProbe(ctx, store, spec.ProbePrefix, check)
	}

	if len(errs) > 0 {
		return rec, errs[0]
	}
	return rec, nil
}

func writeProbe(ctx context.Context, store provider.ObjectStore, prefix string, check func(string, string, error) bool) {
	key := path.Join(prefix, uuid.NewString()+".wav")
	body := []byte("quickcast preflight")

	err := store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), provider.PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"purpose": "preflight"},
	})
	if !check(CapSharePut, fmt.Sprintf("Put(%q)", key), err) {
		return
	}

	err = store.Delete(ctx, key)
	if err == nil {
		if _, herr := store.Head(ctx, key); herr == nil {
			err = errors.New("probe object still present after delete")
		} else if !provider.IsNotFound(herr) {
			err = herr
		}
	}
	check(CapShareDelete, fmt.Sprintf("Delete(%q)", key), err)
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAuthFailure(err):
		return output.ErrCodeAccessDenied
	case errors.Is(err, provider.ErrBucketNotFound), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case errors.Is(err, provider.ErrThrottled):
		return output.ErrCodeThrottled
	case errors.Is(err, provider.ErrProviderUnavailable):
		return output.ErrCodeUnavailable
	default:
		return output.ErrCodeInternal
	}
}

package entropy

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"lukechampine.com/blake3"
)

// Fingerprint is the adapter for the system identity fingerprint. The
// material is largely static and observable, so it contributes the lowest
// quality score, but it still binds output to this specific machine and
// process.
type Fingerprint struct{}

// Source implements the Adapter interface.
func (Fingerprint) Source() Source {
	return SourceFingerprint
}

// Collect digests host identity, process identity and runtime counters.
func (Fingerprint) Collect(ctx context.Context) (Sample, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("host info: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%s;%s;%s;%s;%s;", info.HostID, info.OS, info.Platform, info.KernelVersion, hostname)
	fmt.Fprintf(h, "%d;%d;%d;", os.Getpid(), runtime.NumGoroutine(), runtime.NumCPU())

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], ms.TotalAlloc)
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], ms.Mallocs)
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	h.Write(b[:])

	return Sample{
		Bytes:     h.Sum(nil),
		Source:    SourceFingerprint,
		Collected: time.Now().UTC(),
		Quality:   30,
	}, nil
}

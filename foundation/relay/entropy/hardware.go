package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Hardware is the adapter for system telemetry. Scheduler accounting and
// memory pressure drift continuously and are expensive for an outside
// observer to reconstruct exactly. The adapter is optional; platforms where
// the telemetry calls fail simply make it unavailable.
type Hardware struct{}

// Source implements the Adapter interface.
func (Hardware) Source() Source {
	return SourceHardware
}

// Collect hashes a snapshot of CPU accounting, memory counters and host
// uptime. The context carries the per-adapter timeout the engine imposes.
func (Hardware) Collect(ctx context.Context) (Sample, error) {
	h := sha256.New()

	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu telemetry: %w", err)
	}
	for _, t := range times {
		fmt.Fprintf(h, "%s:%f:%f:%f:%f;", t.CPU, t.User, t.System, t.Idle, t.Iowait)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("memory telemetry: %w", err)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], vm.Available)
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], vm.Free)
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], vm.Cached)
	h.Write(b[:])

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("host telemetry: %w", err)
	}
	binary.LittleEndian.PutUint64(b[:], uptime)
	h.Write(b[:])

	binary.LittleEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	h.Write(b[:])

	return Sample{
		Bytes:     h.Sum(nil),
		Source:    SourceHardware,
		Collected: time.Now().UTC(),
		Quality:   50,
	}, nil
}

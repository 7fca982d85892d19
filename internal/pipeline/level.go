package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// levelSmoothing weights the newest frame in the moving average.
const levelSmoothing = 0.2

// levelProbe tracks a smoothed RMS input level and rate-limits quiet-input advisories.
type levelProbe struct {
	minLevel float64
	limiter  *rate.Limiter

	mu     sync.Mutex
	level  float64
	primed bool
}

func newLevelProbe(minLevel float64, warnInterval time.Duration) *levelProbe {
	return &levelProbe{
		minLevel: minLevel,
		limiter:  rate.NewLimiter(rate.Every(warnInterval), 1),
	}
}

// Observe folds one s16le frame into the average and reports whether an
// advisory should be emitted at now.
func (l *levelProbe) Observe(frame []byte, now time.Time) (Advisory, bool) {
	rms := frameRMS(frame)

	l.mu.Lock()
	if !l.primed {
		l.level = rms
		l.primed = true
	} else {
		l.level = levelSmoothing*rms + (1-levelSmoothing)*l.level
	}
	level := l.level
	l.mu.Unlock()

	if l.minLevel <= 0 || level >= l.minLevel {
		return Advisory{}, false
	}
	if !l.limiter.AllowN(now, 1) {
		return Advisory{}, false
	}
	return Advisory{
		Kind:    AdvisoryLowInputLevel,
		Message: fmt.Sprintf("input level %.4f is below %.4f; check the microphone", level, l.minLevel),
		Level:   level,
	}, true
}

// Level returns the current smoothed level.
func (l *levelProbe) Level() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// frameRMS computes RMS of little-endian int16 samples scaled to [0, 1].
func frameRMS(frame []byte) float64 {
	samples := len(frame) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}

package transcode

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	pctPattern = regexp.MustCompile(`([0-9]{1,3}(?:\.[0-9]+)?)\s*%`)
	etaPattern = regexp.MustCompile(`ETA\s+([0-9]+)h([0-9]+)m([0-9]+)s`)
)

// Progress is one parsed encoder progress line.
type Progress struct {
	Pct    float64
	EtaSec *int
}

// ParseProgress reads a HandBrakeCLI line such as
// "Encoding: task 1 of 1, 42.17 % (87.45 fps, avg 90.12 fps, ETA 00h12m34s)".
func ParseProgress(line string) (Progress, bool) {
	if !strings.Contains(line, "Encoding") {
		return Progress{}, false
	}
	m := pctPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct > 100 {
		return Progress{}, false
	}

	p := Progress{Pct: math.Round(pct*10) / 10}
	if e := etaPattern.FindStringSubmatch(line); e != nil {
		h, _ := strconv.Atoi(e[1])
		mi, _ := strconv.Atoi(e[2])
		s, _ := strconv.Atoi(e[3])
		eta := h*3600 + mi*60 + s
		p.EtaSec = &eta
	}
	return p, true
}

// Forwarding thresholds for encoder output.
const (
	minPctDelta     = 0.5
	maxPctInterval  = 2 * time.Second
	maxLineInterval = 5 * time.Second
)

// update is what the forwarder decided to send.
type update struct {
	Progress *Progress
	Line     string
}

// forwarder decides which encoder lines become progress reports: a percentage
// moving by at least minPctDelta or older than maxPctInterval, other lines at
// most every maxLineInterval. A token bucket caps the overall report rate.
type forwarder struct {
	now     func() time.Time
	limiter *rate.Limiter

	lastPct  float64
	havePct  bool
	lastSent time.Time
}

func newForwarder(now func() time.Time, every time.Duration, burst int) *forwarder {
	if now == nil {
		now = time.Now
	}
	return &forwarder{now: now, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (f *forwarder) offer(line string) (update, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return update{}, false
	}
	now := f.now()

	if p, ok := ParseProgress(line); ok {
		due := !f.havePct || math.Abs(p.Pct-f.lastPct) >= minPctDelta || now.Sub(f.lastSent) > maxPctInterval
		if !due || !f.limiter.AllowN(now, 1) {
			return update{}, false
		}
		f.lastPct, f.havePct, f.lastSent = p.Pct, true, now
		return update{Progress: &p, Line: line}, true
	}

	if now.Sub(f.lastSent) <= maxLineInterval || !f.limiter.AllowN(now, 1) {
		return update{}, false
	}
	f.lastSent = now
	return update{Line: line}, true
}

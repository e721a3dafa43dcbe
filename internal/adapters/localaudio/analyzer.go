// Package localaudio provides the in-process fallback collaborators used when
// the audio-processing service is unavailable.
package localaudio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

const (
	defaultBPM     = 120
	defaultKey     = "C Major"
	defaultLevel   = 0.5
	maxSourceBytes = 64 << 20
)

// Analyzer returns the simplified analysis: fixed tempo and key, with energy
// estimated from the decoded signal when the track can be read.
type Analyzer struct {
	httpClient *http.Client
	root       string
	hosts      map[string]bool
}

var _ ports.Analyzer = (*Analyzer)(nil)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLocalRoot allows reading track files located under dir.
func WithLocalRoot(dir string) Option {
	return func(a *Analyzer) {
		a.root = dir
	}
}

// WithRemoteHosts allows fetching http(s) track references from the named
// hosts. Without it no remote reference is fetched.
func WithRemoteHosts(hosts ...string) Option {
	return func(a *Analyzer) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				a.hosts[h] = true
			}
		}
	}
}

// WithHTTPClient replaces the client used for http(s) references.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Analyzer) {
		a.httpClient = c
	}
}

// NewAnalyzer constructs the fallback analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		hosts:      map[string]bool{},
	}
	for _, opt := range opts {
		opt(a)
	}
	client := *a.httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if !a.allowed(req.URL) {
			return fmt.Errorf("redirect to %s is not allowed", req.URL.Host)
		}
		return nil
	}
	a.httpClient = &client
	return a
}

func (a *Analyzer) allowed(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && a.hosts[strings.ToLower(u.Hostname())]
}

// Analyze never fails for a non-empty reference.
func (a *Analyzer) Analyze(ctx context.Context, trackRef string, _ map[string]string) (domain.AudioFeatures, error) {
	if strings.TrimSpace(trackRef) == "" {
		return domain.AudioFeatures{}, errors.New("localaudio: empty track reference")
	}
	f := domain.AudioFeatures{
		BPM:     defaultBPM,
		Key:     defaultKey,
		Energy:  defaultLevel,
		Clarity: deterministicClarity(trackRef),
		HarmonicProfile: &domain.HarmonicProfile{
			HarmonicStructure: "unknown",
			Tonality:          domain.TonalityAmbiguous,
		},
	}

	data, name, err := a.load(ctx, trackRef)
	if err != nil {
		log.Printf("INFO localaudio: %s not readable, using defaults: %v", trackRef, err)
		return f, nil
	}
	energy, err := estimateEnergy(data, name)
	if err != nil {
		log.Printf("INFO localaudio: %s not decodable, using defaults: %v", trackRef, err)
		return f, nil
	}
	f.Energy = energy
	return f, nil
}

// deterministicClarity keeps repeated fallbacks for one track stable.
func deterministicClarity(trackRef string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(domain.NormalizeTrackRef(trackRef)))
	return 0.4 + float64(h.Sum32()%1000)/1000*0.2
}

func (a *Analyzer) load(ctx context.Context, raw string) ([]byte, string, error) {
	ref := domain.NormalizeTrackRef(raw)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		// signed URLs need their query string
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, "", err
		}
		if !a.allowed(u) {
			return nil, "", fmt.Errorf("remote host %q is not allowed", u.Hostname())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("fetch status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
		return data, ref, err
	}

	if a.root == "" {
		return nil, "", errors.New("local files disabled")
	}
	path := filepath.Clean(filepath.Join(a.root, strings.TrimPrefix(ref, "file://")))
	rel, err := filepath.Rel(a.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, "", fmt.Errorf("%s is outside the audio root", ref)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSourceBytes))
	return data, path, err
}

// estimateEnergy returns the RMS level of the signal scaled into [0, 1].
func estimateEnergy(data []byte, name string) (float64, error) {
	var rms float64
	var err error
	if bytes.HasPrefix(data, []byte("RIFF")) || strings.EqualFold(filepath.Ext(name), ".wav") {
		rms, err = wavRMS(data)
	} else {
		rms, err = mp3RMS(data)
	}
	if err != nil {
		return 0, err
	}
	return math.Min(1, math.Max(0, rms*10)), nil
}

func wavRMS(data []byte) (float64, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return 0, errors.New("invalid WAV file")
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("wav read failed: %w", err)
	}
	if len(buf.Data) == 0 || decoder.BitDepth == 0 {
		return 0, errors.New("wav contains no samples")
	}

	maxVal := float64(int(1) << (uint(decoder.BitDepth) - 1))
	var sumSquares float64
	for _, v := range buf.Data {
		s := float64(v) / maxVal
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(buf.Data))), nil
}

func mp3RMS(data []byte) (float64, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("mp3 decode failed: %w", err)
	}

	buf := make([]byte, 4096)
	var sumSquares float64
	var count float64
	for {
		n, err := decoder.Read(buf)
		for i := 0; i+1 < n; i += 2 {
			sample := float64(int16(buf[i])|int16(buf[i+1])<<8) / 32768.0
			sumSquares += sample * sample
			count++
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("mp3 read failed: %w", err)
		}
	}
	if count == 0 {
		return 0, errors.New("mp3 contains no samples")
	}
	return math.Sqrt(sumSquares / count), nil
}

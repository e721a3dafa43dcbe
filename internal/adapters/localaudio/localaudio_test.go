package localaudio

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

// writeSine writes one second of a mono 16-bit sine at the given peak amplitude.
func writeSine(t *testing.T, path string, amplitude float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	const rate = 8000
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, rate),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzer_Analyze(t *testing.T) {
	dir := t.TempDir()
	writeSine(t, filepath.Join(dir, "quiet.wav"), 0.02)
	if err := os.WriteFile(filepath.Join(dir, "junk.mp3"), []byte("not audio"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		ref        string
		root       string
		wantEnergy float64
	}{
		{name: "wav under root", ref: "quiet.wav", root: dir, wantEnergy: 0.02 / math.Sqrt2 * 10},
		{name: "undecodable file keeps defaults", ref: "junk.mp3", root: dir, wantEnergy: defaultLevel},
		{name: "local files disabled", ref: "quiet.wav", wantEnergy: defaultLevel},
		{name: "escape from root refused", ref: "../etc/passwd", root: dir, wantEnergy: defaultLevel},
		{name: "opaque reference", ref: "soundcloud:tracks:123", wantEnergy: defaultLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.root != "" {
				opts = append(opts, WithLocalRoot(tt.root))
			}
			f, err := NewAnalyzer(opts...).Analyze(context.Background(), tt.ref, nil)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if f.BPM != defaultBPM || f.Key != defaultKey {
				t.Fatalf("tempo/key = %v %q", f.BPM, f.Key)
			}
			if math.Abs(f.Energy-tt.wantEnergy) > 0.01 {
				t.Fatalf("Energy = %v, want %v", f.Energy, tt.wantEnergy)
			}
			if f.Clarity < 0.4 || f.Clarity > 0.6 {
				t.Fatalf("Clarity = %v", f.Clarity)
			}
		})
	}
}

func TestAnalyzer_RemoteFetch(t *testing.T) {
	dir := t.TempDir()
	writeSine(t, filepath.Join(dir, "tone.wav"), 0.05)

	var hits atomic.Int32
	files := http.FileServer(http.Dir(dir))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/elsewhere" {
			// same server under a host name that is not on the list
			http.Redirect(w, r, "http://"+strings.Replace(r.Host, "127.0.0.1", "localhost", 1)+"/tone.wav", http.StatusFound)
			return
		}
		if r.URL.Query().Get("sig") != "abc" {
			http.Error(w, "unsigned", http.StatusForbidden)
			return
		}
		hits.Add(1)
		files.ServeHTTP(w, r)
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")
	host = host[:strings.LastIndex(host, ":")]

	tests := []struct {
		name       string
		ref        string
		hosts      []string
		wantEnergy float64
		wantHits   int32
	}{
		{name: "allowed host keeps the signature", ref: srv.URL + "/tone.wav?sig=abc", hosts: []string{host}, wantEnergy: 0.05 / math.Sqrt2 * 10, wantHits: 1},
		{name: "no hosts configured", ref: srv.URL + "/tone.wav?sig=abc", wantEnergy: defaultLevel},
		{name: "other host", ref: srv.URL + "/tone.wav?sig=abc", hosts: []string{"cdn.example.com"}, wantEnergy: defaultLevel},
		{name: "redirect off the list", ref: srv.URL + "/elsewhere?sig=abc", hosts: []string{host}, wantEnergy: defaultLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)
			f, err := NewAnalyzer(WithRemoteHosts(tt.hosts...)).Analyze(context.Background(), tt.ref, nil)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(f.Energy-tt.wantEnergy) > 0.01 {
				t.Fatalf("Energy = %v, want %v", f.Energy, tt.wantEnergy)
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Fatalf("server hits = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestDeterministicClarity(t *testing.T) {
	a := deterministicClarity("sc://track?x=1")
	b := deterministicClarity("sc://track?x=2")
	if a != b {
		t.Fatalf("clarity differs for the same track: %v vs %v", a, b)
	}
}

func TestSeparator_Separate(t *testing.T) {
	stems, err := Separator{}.Separate(context.Background(), "https://cdn.test/a.mp3?sig=1", domain.StemQualityHigh)
	if err != nil {
		t.Fatal(err)
	}
	if stems.IsZero() {
		t.Fatal("expected stems")
	}
	if got := string(stems.Vocals); got != "sim://cdn.test/a.mp3/vocals?quality=high" {
		t.Fatalf("Vocals = %q", got)
	}
	for _, ref := range []domain.ArtifactRef{stems.Instrumental, stems.Drums, stems.Bass, stems.Other} {
		if !strings.HasPrefix(string(ref), "sim://") {
			t.Fatalf("stem %q is not simulated", ref)
		}
	}
	if _, err := (Separator{}).Separate(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty reference")
	}
}

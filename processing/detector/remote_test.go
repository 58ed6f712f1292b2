package processing

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// decodeRequest is the server side of encodeRequest.
func decodeRequest(payload []byte) (float32, image.Image, error) {
	if len(payload) < 5 {
		return 0, nil, fmt.Errorf("request too short: %d bytes", len(payload))
	}
	confidence := math.Float32frombits(binary.BigEndian.Uint32(payload[:4]))
	img, err := jpeg.Decode(bytes.NewReader(payload[4:]))
	if err != nil {
		return 0, nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return confidence, img, nil
}

// detectionServer answers every request with two boxes and remembers the
// thresholds it was sent. With oneShot it hangs up after the first answer.
type detectionServer struct {
	oneShot bool

	mu         sync.Mutex
	thresholds []float32
}

func (s *detectionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		conf, img, err := decodeRequest(msg)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.thresholds = append(s.thresholds, conf)
		s.mu.Unlock()

		b := img.Bounds()
		reply, _ := json.Marshal([]remoteDetection{
			{Label: "scratches", ClassID: 5, Confidence: 0.88, Box: []float32{10, 10, 40, 30}},
			{Label: "patches", ClassID: 2, Confidence: 0.61, Box: []float32{50, 20, float32(b.Dx() + 50), 60}},
			{Label: "broken", Box: []float32{1, 2}},
		})
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
		if s.oneShot {
			return
		}
	}
}

func (s *detectionServer) seen() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.thresholds...)
}

func serverHost(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestRemoteDetector_RoundTrip(t *testing.T) {
	handler := &detectionServer{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	det := NewRemoteDetector(serverHost(srv), NewBasicAnnotator())
	defer det.Close()

	img := grayImage(120, 80)
	out, err := det.Detect(context.Background(), img, 0.35)
	require.NoError(t, err)
	require.Len(t, out.Detections, 2)
	require.Equal(t, "scratches", out.Detections[0].Label)
	require.Equal(t, 5, out.Detections[0].ClassID)
	require.Equal(t, 120, out.Detections[1].Box.Max.X, "boxes are clipped to the image")
	require.Equal(t, img.Bounds(), out.Annotated.Bounds())

	_, err = det.Detect(context.Background(), img, 0.8)
	require.NoError(t, err)

	seen := handler.seen()
	require.Len(t, seen, 2)
	require.InDelta(t, 0.35, seen[0], 1e-6)
	require.InDelta(t, 0.8, seen[1], 1e-6)
}

func TestRemoteDetector_RedialsAfterDrop(t *testing.T) {
	srv := httptest.NewServer(&detectionServer{oneShot: true})
	defer srv.Close()

	det := NewRemoteDetector(serverHost(srv), NewBasicAnnotator())
	defer det.Close()

	img := grayImage(64, 64)
	_, err := det.Detect(context.Background(), img, 0.5)
	require.NoError(t, err)

	_, err = det.Detect(context.Background(), img, 0.5)
	require.Error(t, err)

	_, err = det.Detect(context.Background(), img, 0.5)
	require.NoError(t, err)
}

func TestRemoteDetector_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := serverHost(srv)
	srv.Close()

	det := NewRemoteDetector(host, NewBasicAnnotator())
	_, err := det.Detect(context.Background(), grayImage(8, 8), 0.5)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestRemoteDetector_RejectsEmptyImage(t *testing.T) {
	det := NewRemoteDetector("localhost:1", NewBasicAnnotator())
	_, err := det.Detect(context.Background(), nil, 0.5)
	require.ErrorIs(t, err, ErrNoImage)
}

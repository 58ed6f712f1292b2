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
	"net/url"
	"sync"
	"time"

	"defectvision/internal/logging"
	"defectvision/internal/models"

	"github.com/gorilla/websocket"
)

const (
	DefaultRemoteTimeout = 30 * time.Second
	jpegQuality          = 90
)

// remoteDetection is one element of the JSON array the server answers with.
// Box is [x1, y1, x2, y2] in source image pixels.
type remoteDetection struct {
	Label      string    `json:"label"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
}

// RemoteDetector sends images to a detection server over a websocket and draws
// the boxes it returns. One request is on the wire at a time.
type RemoteDetector struct {
	serverURL string
	timeout   time.Duration
	annotator *Annotator
	dialer    *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewRemoteDetector(host string, ann *Annotator) *RemoteDetector {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}

	return &RemoteDetector{
		serverURL: u.String(),
		timeout:   DefaultRemoteTimeout,
		annotator: ann,
		dialer:    websocket.DefaultDialer,
	}
}

func (d *RemoteDetector) Detect(ctx context.Context, img image.Image, confidence float32) (*Output, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNoImage
	}

	payload, err := encodeRequest(img, confidence)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		d.drop()
		return nil, fmt.Errorf("send image: %w", err)
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		d.drop()
		return nil, fmt.Errorf("read detections: %w", err)
	}

	var results []remoteDetection
	if err := json.Unmarshal(message, &results); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	dets := make([]models.Detection, 0, len(results))
	for _, r := range results {
		if len(r.Box) != 4 {
			continue
		}
		dets = append(dets, models.Detection{
			ClassID: r.ClassID,
			Label:   r.Label,
			Score:   r.Confidence,
			Box:     image.Rect(int(r.Box[0]), int(r.Box[1]), int(r.Box[2]), int(r.Box[3])).Intersect(img.Bounds()),
		})
	}

	return &Output{
		Detections: dets,
		Annotated:  d.annotator.Render(img, dets),
	}, nil
}

// connect dials lazily; a dropped connection is redialed on the next request.
func (d *RemoteDetector) connect(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	logging.L().WithField("url", d.serverURL).Info("connecting to detector server")
	conn, _, err := d.dialer.DialContext(dialCtx, d.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	d.conn = conn
	return conn, nil
}

func (d *RemoteDetector) drop() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

// Device is unknown on the client side; the server picks its own.
func (d *RemoteDetector) Device() models.Device {
	return models.DeviceRemote
}

func (d *RemoteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	d.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := d.conn.Close()
	d.conn = nil
	return err
}

// encodeRequest packs the threshold as a big-endian float32 ahead of the JPEG bytes.
func encodeRequest(img image.Image, confidence float32) ([]byte, error) {
	var buf bytes.Buffer
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], math.Float32bits(confidence))
	buf.Write(head[:])

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

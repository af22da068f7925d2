package orders

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"time"
)

type Page struct {
	Items      []*Order `json:"items"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// Cursor is the keyset position (created_at, order_id) of the last row of a page.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	OrderID   string    `json:"order_id"`
}

func EncodeCursor(c Cursor) string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor returns a cursor positioned before the newest row when encoded is empty.
func DecodeCursor(encoded string) (Cursor, error) {
	var c Cursor
	if encoded == "" {
		return Cursor{
			CreatedAt: time.Unix(math.MaxInt32, 0).UTC(),
			OrderID:   "\U0010FFFF",
		}, nil
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

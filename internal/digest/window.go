package digest

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/database/types"
)

// SliceKey identifies a digest window.
func SliceKey(start, end time.Time) string {
	return strconv.FormatInt(start.Unix(), 10) + "-" + strconv.FormatInt(end.Unix(), 10)
}

// cursor is the decoded form of a continue token.
type cursor struct {
	Start  time.Time `json:"s"`
	Before time.Time `json:"b"`
	ID     string    `json:"i"`
}

// EncodeContinueToken builds a token resuming a window after the given item.
func EncodeContinueToken(start time.Time, after types.CandidateCursor) string {
	data, err := sonic.Marshal(cursor{Start: start.UTC(), Before: after.CreatedAt.UTC(), ID: after.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeContinueToken parses a continue token.
func DecodeContinueToken(token string) (time.Time, types.CandidateCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, types.CandidateCursor{}, fmt.Errorf("%w: malformed continue token", ErrInvalidRequest)
	}

	var c cursor
	if err := sonic.Unmarshal(data, &c); err != nil {
		return time.Time{}, types.CandidateCursor{}, fmt.Errorf("%w: malformed continue token", ErrInvalidRequest)
	}

	// The cursor item itself may sit on the window start
	if c.Start.IsZero() || c.Before.IsZero() || c.ID == "" || c.Before.Before(c.Start) {
		return time.Time{}, types.CandidateCursor{}, fmt.Errorf("%w: continue token has an empty window", ErrInvalidRequest)
	}

	return c.Start, types.CandidateCursor{CreatedAt: c.Before, ID: c.ID}, nil
}

// resolveWindow picks the digest window. Explicit bounds are used as they are.
// Computed bounds are aligned to the slice granularity: the start is rounded
// down and the end is rounded up, so requests within one slice share a key.
// A continue token yields the window below its cursor together with the cursor.
func (s *Service) resolveWindow(
	req Request, lastActive func() (time.Time, bool), now time.Time,
) (types.TimeWindow, *types.CandidateCursor, error) {
	if req.ContinueToken != "" {
		start, after, err := DecodeContinueToken(req.ContinueToken)
		if err != nil {
			return types.TimeWindow{}, nil, err
		}
		return types.TimeWindow{Start: start, End: after.CreatedAt}, &after, nil
	}

	var window types.TimeWindow

	if req.End != nil {
		window.End = req.End.UTC()
	} else {
		window.End = ceil(now, s.opts.SliceGranularity)
	}

	switch {
	case req.Start != nil:
		window.Start = req.Start.UTC()
	default:
		if at, ok := lastActive(); ok {
			window.Start = at.UTC().Truncate(s.opts.SliceGranularity)
		} else {
			window.Start = now.Add(-s.opts.DefaultWindow).Truncate(s.opts.SliceGranularity)
		}
	}

	if !window.Start.Before(window.End) {
		if req.Start != nil && req.End != nil {
			return types.TimeWindow{}, nil, fmt.Errorf("%w: start must be before end", ErrInvalidRequest)
		}
		// A last-active time at or after the end leaves one slice to look at
		window.Start = window.End.Add(-max(s.opts.SliceGranularity, time.Second))
	}

	return window, nil, nil
}

func ceil(t time.Time, granularity time.Duration) time.Time {
	t = t.UTC()
	if granularity <= 0 {
		return t
	}

	floor := t.Truncate(granularity)
	if floor.Equal(t) {
		return floor
	}
	return floor.Add(granularity)
}

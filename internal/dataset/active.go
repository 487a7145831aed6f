package dataset

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

// Opener initializes a bucket iterator. model.Model satisfies it.
type Opener interface {
	OpenStream(ctx context.Context, spec model.StreamSpec) (model.StreamHandle, error)
}

// Stream is one live bucket iterator.
type Stream struct {
	Bucket int
	Handle model.StreamHandle
}

// ActiveSet holds the not-yet-exhausted bucket streams of the current epoch
// in bucket order. It only shrinks; a new epoch builds a new set.
type ActiveSet struct {
	streams []Stream
}

// InitEpoch opens one stream per bucket. Buckets without files are skipped.
func InitEpoch(ctx context.Context, opener Opener, buckets []Bucket) (*ActiveSet, error) {
	set := &ActiveSet{streams: make([]Stream, 0, len(buckets))}
	for _, b := range buckets {
		if len(b.Files) == 0 {
			continue
		}
		h, err := opener.OpenStream(ctx, model.StreamSpec{
			Name:      fmt.Sprintf("bucket-%d", b.Index),
			Bucket:    b.Index,
			BatchSize: b.BatchSize,
			Files:     b.Files,
			Shuffle:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("open bucket %d: %w", b.Index, err)
		}
		set.streams = append(set.streams, Stream{Bucket: b.Index, Handle: h})
	}
	return set, nil
}

// First returns the highest-priority live stream.
func (s *ActiveSet) First() (Stream, bool) {
	if len(s.streams) == 0 {
		return Stream{}, false
	}
	return s.streams[0], true
}

// RemoveFirst drops the head stream after it reports exhaustion.
func (s *ActiveSet) RemoveFirst() {
	if len(s.streams) > 0 {
		s.streams = s.streams[1:]
	}
}

// Len is the number of live streams.
func (s *ActiveSet) Len() int {
	return len(s.streams)
}

// Buckets returns the bucket indices still live, in priority order.
func (s *ActiveSet) Buckets() []int {
	out := make([]int, len(s.streams))
	for i, st := range s.streams {
		out[i] = st.Bucket
	}
	return out
}

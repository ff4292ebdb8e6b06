// Package ros bridges the pose refinement pipeline and ROS: message types for pose arrays and
// sparse voxel grids, and extraction of time synchronized messages from rosbags.
package ros

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"
)

// Message is one message of a topic as extracted from a bag: the record time and the payload.
type Message[T any] struct {
	Meta Stamp `json:"meta"`
	Data T     `json:"data"`
}

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()

	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}

	return rb, nil
}

// TopicKey returns the name a topic is stored under once parsed: without the leading slash, with
// slashes replaced by underscores, lower case.
func TopicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// AllMessagesForTopic returns all messages for a specific topic in the ros bag.
func AllMessagesForTopic(rb *rosbag.RosBag, topic string) ([]map[string]interface{}, error) {
	key := TopicKey(topic)
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return TopicKey(t) == key },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[key]
	if msgs == nil {
		return nil, errors.Errorf("no messages for topic %s", topic)
	}
	return readJSONLines(msgs)
}

type lineReader interface {
	ReadBytes(delim byte) ([]byte, error)
}

func readJSONLines(msgs lineReader) ([]map[string]interface{}, error) {
	all := []map[string]interface{}{}
	for {
		data, err := msgs.ReadBytes('\n')
		if len(strings.TrimSpace(string(data))) > 0 {
			message := map[string]interface{}{}
			if err := json.Unmarshal(data, &message); err != nil {
				return nil, err
			}
			all = append(all, message)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return all, nil
}

// DecodeMessages converts generic messages into typed ones using the json field names.
func DecodeMessages[T any](msgs []map[string]interface{}) ([]Message[T], error) {
	out := make([]Message[T], len(msgs))
	for i, msg := range msgs {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			Result:           &out[i],
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(msg); err != nil {
			return nil, errors.Wrapf(err, "message %d", i)
		}
	}
	return out, nil
}

// TopicMessages reads and decodes every message of a topic.
func TopicMessages[T any](rb *rosbag.RosBag, topic string) ([]Message[T], error) {
	msgs, err := AllMessagesForTopic(rb, topic)
	if err != nil {
		return nil, err
	}
	return DecodeMessages[T](msgs)
}

// Frame is a pose array with the target and no-entry grids that carry the same header stamp.
type Frame struct {
	Stamp   Stamp
	Poses   ObjectPoseArray
	Grids   VoxelGridArray
	NoEntry VoxelGridArray
}

// Synchronize matches the three streams by exact header stamp and returns the complete frames in
// stamp order. Messages without a partner in both other streams are dropped.
func Synchronize(
	poses []Message[ObjectPoseArray],
	grids []Message[VoxelGridArray],
	noEntry []Message[VoxelGridArray],
) []Frame {
	gridsByStamp := lo.KeyBy(grids, func(m Message[VoxelGridArray]) Stamp { return m.Data.Header.Stamp })
	noEntryByStamp := lo.KeyBy(noEntry, func(m Message[VoxelGridArray]) Stamp { return m.Data.Header.Stamp })

	frames := lo.FilterMap(poses, func(m Message[ObjectPoseArray], _ int) (Frame, bool) {
		stamp := m.Data.Header.Stamp
		g, okGrid := gridsByStamp[stamp]
		n, okNoEntry := noEntryByStamp[stamp]
		if !okGrid || !okNoEntry {
			return Frame{}, false
		}
		return Frame{Stamp: stamp, Poses: m.Data, Grids: g.Data, NoEntry: n.Data}, true
	})
	frames = lo.UniqBy(frames, func(f Frame) Stamp { return f.Stamp })
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Stamp.Before(frames[j].Stamp) })
	return frames
}

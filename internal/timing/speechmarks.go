package timing

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

// LastVisemeHoldMS is how long the final viseme is held when the mark carries no end.
const LastVisemeHoldMS = 150

type speechMark struct {
	Type  string  `json:"type"`
	Time  uint32  `json:"time"`
	Start uint32  `json:"start"`
	End   *uint32 `json:"end"`
	Value string  `json:"value"`
}

// ParseSpeechMarks reads newline-delimited speech-mark JSON. Viseme marks are
// preferred: each is stretched to the next viseme's start and the last is
// held for LastVisemeHoldMS. Without visemes the word marks are returned.
// A positive audioMS clamps the end of the final mark.
func ParseSpeechMarks(data []byte, audioMS uint32) (Track, error) {
	var words, visemes Track
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m speechMark
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("speech mark line %d: %w", line, err)
		}
		switch m.Type {
		case "word":
			end := m.Start
			if m.End != nil {
				end = *m.End
			}
			words = append(words, Mark{Label: m.Value, StartMS: m.Start, EndMS: end})
		case "viseme":
			end := m.Time + LastVisemeHoldMS
			if m.End != nil {
				end = *m.End
			}
			visemes = append(visemes, Mark{Label: m.Value, StartMS: m.Time, EndMS: end})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read speech marks: %w", err)
	}

	track := words
	if len(visemes) > 0 {
		for i := 0; i < len(visemes)-1; i++ {
			visemes[i].EndMS = visemes[i+1].StartMS
		}
		track = visemes
	}
	if len(track) == 0 {
		return nil, fmt.Errorf("%w: no speech marks", ErrSourceUnusable)
	}
	if last := &track[len(track)-1]; audioMS > 0 && last.EndMS > audioMS {
		last.EndMS = audioMS
	}
	return track, nil
}

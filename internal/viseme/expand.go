package viseme

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-facesync/internal/timing"
)

// Dictionary maps upper-case words to ARPAbet phoneme sequences.
type Dictionary map[string][]string

// LoadDictionary reads a CMU pronouncing dictionary file.
func LoadDictionary(path string) (Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	return ReadDictionary(f)
}

// ReadDictionary parses "WORD  PH1 PH2 ..." lines. Comment lines start with
// ";;;" and alternate pronunciations ("WORD(2)") are ignored.
func ReadDictionary(r io.Reader) (Dictionary, error) {
	dict := make(Dictionary)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";;;") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		word := strings.ToUpper(fields[0])
		if strings.HasSuffix(word, ")") {
			continue
		}
		if _, exists := dict[word]; exists {
			continue
		}
		dict[word] = fields[1:]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return dict, nil
}

// Expander splits word marks into per-phoneme viseme marks.
type Expander struct {
	dict Dictionary
}

func NewExpander(dict Dictionary) *Expander {
	return &Expander{dict: dict}
}

// Phonemes returns the pronunciation of a word, falling back to letters.
func (e *Expander) Phonemes(word string) []string {
	clean := strings.ToUpper(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}))
	if clean == "" {
		return nil
	}
	if e != nil {
		if phonemes, ok := e.dict[clean]; ok {
			return phonemes
		}
	}
	return LetterPhonemes(clean)
}

// Expand replaces each word mark with evenly split phoneme marks labelled
// so that Classify yields the phoneme's category. Marks that already carry a
// viseme label pass through untouched.
func (e *Expander) Expand(track timing.Track) timing.Track {
	out := make(timing.Track, 0, len(track))
	for _, m := range track {
		if isVisemeLabel(m.Label) {
			out = append(out, m)
			continue
		}
		phonemes := e.Phonemes(m.Label)
		span := m.EndMS - m.StartMS
		if len(phonemes) == 0 || span == 0 {
			out = append(out, m)
			continue
		}
		n := uint32(len(phonemes))
		for i, p := range phonemes {
			idx := uint32(i)
			start := m.StartMS + span*idx/n
			end := m.StartMS + span*(idx+1)/n
			if end <= start {
				continue
			}
			out = append(out, timing.Mark{
				Label:   PhonemeCategory(p).Label(),
				StartMS: start,
				EndMS:   end,
			})
		}
	}
	return out
}

func isVisemeLabel(label string) bool {
	_, ok := table[strings.ToLower(strings.TrimSpace(label))]
	return ok
}

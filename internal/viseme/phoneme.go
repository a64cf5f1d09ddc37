package viseme

import "strings"

// phonemeTable maps CMU ARPAbet phonemes, with stress digits, to categories.
var phonemeTable = buildPhonemeTable()

func buildPhonemeTable() map[string]Category {
	vowels := map[string]Category{
		"AA": AI, "AE": AI, "AH": AI, "AY": AI, "IH": AI,
		"AO": O, "AW": O, "OW": O,
		"EH": E, "ER": E, "EY": E, "IY": E,
		"OY": WQ,
		"UH": U, "UW": U,
	}
	consonants := map[string]Category{
		"B": MBP, "M": MBP, "P": MBP,
		"F": FV, "V": FV,
		"L": L,
		"W": WQ,
		"CH": ETC, "D": ETC, "DH": ETC, "G": ETC, "HH": ETC, "JH": ETC,
		"K": ETC, "N": ETC, "NG": ETC, "R": ETC, "S": ETC, "SH": ETC,
		"T": ETC, "TH": ETC, "Y": ETC, "Z": ETC, "ZH": ETC,
	}
	out := make(map[string]Category, len(vowels)*4+len(consonants))
	for p, c := range vowels {
		out[p] = c
		for _, stress := range []string{"0", "1", "2"} {
			out[p+stress] = c
		}
	}
	for p, c := range consonants {
		out[p] = c
	}
	return out
}

// PhonemeCategory maps one ARPAbet phoneme to a category. Unknown phonemes
// fall into ETC since they are almost always consonants.
func PhonemeCategory(phoneme string) Category {
	if c, ok := phonemeTable[strings.ToUpper(strings.TrimSpace(phoneme))]; ok {
		return c
	}
	return ETC
}

var letterVowels = map[rune]string{
	'A': "AE1",
	'E': "EH1",
	'I': "IH1",
	'O': "OW1",
	'U': "UW1",
}

// LetterPhonemes approximates a pronunciation for words missing from the
// dictionary: vowels become a stressed vowel phoneme, consonants keep their letter.
func LetterPhonemes(word string) []string {
	var out []string
	for _, r := range strings.ToUpper(word) {
		if r < 'A' || r > 'Z' {
			continue
		}
		if p, ok := letterVowels[r]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, string(r))
	}
	return out
}

package fseq

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const useStateKey = "E_CHOICE_Faces_UseState="

// WriteDescriptor writes the minimal XSQ sequence document naming the audio file.
func WriteDescriptor(w io.Writer, audioPath string) error {
	song := ""
	if audioPath != "" {
		song = filepath.Base(audioPath)
	}
	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(song)); err != nil {
		return err
	}
	doc := strings.Join([]string{
		`<?xml version="1.0"?>`,
		`<sequence>`,
		`  <song>` + escaped.String() + `</song>`,
		`  <effects></effects>`,
		`</sequence>`,
	}, "\n")
	if _, err := io.WriteString(w, doc); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

// FindTemplateState returns the face state selected by the first Effect in an
// XSQ document that carries E_CHOICE_Faces_UseState. The bool is false when
// no effect selects a state.
func FindTemplateState(r io.Reader) (string, bool, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	inEffect := 0
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("scan template: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Effect" {
				inEffect++
				text.Reset()
			}
		case xml.CharData:
			if inEffect > 0 {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local != "Effect" || inEffect == 0 {
				continue
			}
			inEffect--
			if state, ok := stateFromSettings(text.String()); ok {
				return state, true, nil
			}
		}
	}
}

func stateFromSettings(settings string) (string, bool) {
	for _, param := range strings.Split(settings, ",") {
		_, value, ok := strings.Cut(param, useStateKey)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value != "" {
			return value, true
		}
	}
	return "", false
}

package notes

import "strings"

const readingWordsPerMinute = 200

// Stats holds counts derived from a note's content.
type Stats struct {
	WordCount       int `json:"word_count"`
	CharacterCount  int `json:"character_count"`
	ReadTimeMinutes int `json:"read_time_minutes"`
}

// ComputeStats derives word count, character count, and a read-time estimate
// from the note content. Read time is rounded up so any non-empty content
// reports at least one minute.
func ComputeStats(content string) Stats {
	words := len(strings.Fields(content))
	characters := len([]rune(content))

	readMinutes := 0
	if words > 0 {
		readMinutes = (words + readingWordsPerMinute - 1) / readingWordsPerMinute
	}

	return Stats{
		WordCount:       words,
		CharacterCount:  characters,
		ReadTimeMinutes: readMinutes,
	}
}

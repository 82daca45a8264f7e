package services

import (
	"fmt"
	"strconv"

	"github.com/clipdock/usability/internal/models"
)

// ReverseScore maps a raw Likert value to its reverse-scored value
// given the number of points in the scale (e.g., 5 or 7).
// raw is expected to be within [1, points]. Out-of-range values are clamped.
func ReverseScore(raw, points int) int {
	if points < 2 {
		return raw
	}
	if raw < 1 {
		raw = 1
	}
	if raw > points {
		raw = points
	}
	return (points + 1) - raw
}

// SUSScore computes the System Usability Scale score (0-100) from a
// posttest-sus submission payload with answers keyed q1..q10 on a 1-5
// Likert scale. Odd items contribute (v-1), even items are reverse-scored.
func SUSScore(data models.JSONMap) (float64, error) {
	sum := 0
	for i := 1; i <= 10; i++ {
		v, ok := intField(data, fmt.Sprintf("q%d", i))
		if !ok {
			return 0, fmt.Errorf("sus: missing or non-numeric answer q%d", i)
		}
		if v < 1 {
			v = 1
		}
		if v > 5 {
			v = 5
		}
		if i%2 == 1 {
			sum += v - 1
		} else {
			sum += ReverseScore(v, 5) - 1
		}
	}
	return float64(sum) * 2.5, nil
}

// NPS aggregates Net Promoter Score inputs.
// NPS = %Promoters - %Detractors.
type NPS struct {
	// The total of surveyed people
	TotalSurvey int
	// Ratings 9 or 10
	Promoters int
	// Ratings 7 or 8
	Passives int
	// 6 or lower
	Detractors int
}

// Add classifies one 0-10 rating into the aggregate.
func (n *NPS) Add(rating int) {
	n.TotalSurvey++
	switch {
	case rating >= 9:
		n.Promoters++
	case rating >= 7:
		n.Passives++
	default:
		n.Detractors++
	}
}

func (n *NPS) CalculateNPS() (int, error) {
	if n.TotalSurvey == 0 {
		return 0, nil
	}
	totalEntities := n.Promoters + n.Passives + n.Detractors
	if n.TotalSurvey < totalEntities {
		return 0, fmt.Errorf("cannot compute nps: total surveyed %d is less than classified entities %d", n.TotalSurvey, totalEntities)
	}
	promoterCalc := (float64(n.Promoters) / float64(n.TotalSurvey)) * 100
	detractorCalc := (float64(n.Detractors) / float64(n.TotalSurvey)) * 100
	return int(promoterCalc - detractorCalc), nil
}

// NPSRating extracts the 0-10 rating from a posttest-nps payload.
func NPSRating(data models.JSONMap) (int, bool) {
	return intField(data, "rating")
}

// intField reads a numeric field that may arrive as a JSON number or as a
// string (HTML form values are strings).
func intField(data models.JSONMap, key string) (int, bool) {
	switch v := data[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

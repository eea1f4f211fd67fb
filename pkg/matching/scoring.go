package matching

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Field weights. A field only counts toward the maximum when both clients carry it;
// the name always counts.
const (
	WeightTaxID        = 40
	WeightEmail        = 35
	WeightPhone        = 25
	WeightSimilarPhone = 15
	WeightName         = 20
	WeightSimilarName  = 10
	WeightBirthDate    = 10

	phoneSuffixDigits = 8
)

// Tier thresholds, by percentage or by raw points
const (
	highPercent   = 70.0
	highPoints    = 60
	mediumPercent = 40.0
	mediumPoints  = 30
)

// Scorer computes weighted similarity between two client records
type Scorer struct {
	normalizer *normalizers.ClientNormalizer
}

// NewScorer creates a Scorer. A nil normalizer uses the default phone rules.
func NewScorer(normalizer *normalizers.ClientNormalizer) *Scorer {
	if normalizer == nil {
		normalizer = normalizers.NewClientNormalizer(normalizers.DefaultPhone)
	}
	return &Scorer{normalizer: normalizer}
}

func (s *Scorer) Normalizer() *normalizers.ClientNormalizer {
	return s.normalizer
}

// Score normalizes both clients and scores them.
func (s *Scorer) Score(a, b models.Client) models.SimilarityResult {
	return s.ScoreNormalized(s.normalizer.Normalize(a), s.normalizer.Normalize(b))
}

// ScoreNormalized scores two pre-normalized clients. The result is symmetric and
// its client ids are ordered so that ClientAID <= ClientBID.
func (s *Scorer) ScoreNormalized(a, b normalizers.NormalizedClient) models.SimilarityResult {
	if b.ID < a.ID {
		a, b = b, a
	}

	points, maxPoints := 0, 0
	reasons := []string{}

	if a.TaxID != "" && b.TaxID != "" {
		maxPoints += WeightTaxID
		if a.TaxID == b.TaxID {
			points += WeightTaxID
			reasons = append(reasons, models.ReasonTaxID)
		}
	}

	if a.Email != "" && b.Email != "" {
		maxPoints += WeightEmail
		if a.Email == b.Email {
			points += WeightEmail
			reasons = append(reasons, models.ReasonEmail)
		}
	}

	if a.Phone != "" && b.Phone != "" {
		maxPoints += WeightPhone
		switch {
		case a.Phone == b.Phone:
			points += WeightPhone
			reasons = append(reasons, models.ReasonPhone)
		case sameSuffix(a.Phone, b.Phone, phoneSuffixDigits):
			points += WeightSimilarPhone
			reasons = append(reasons, models.ReasonSimilarPhone)
		}
	}

	maxPoints += WeightName
	switch nameBucket(a.Name, b.Name) {
	case bucketVerySimilar:
		points += WeightName
		reasons = append(reasons, models.ReasonVerySimilarNm)
	case bucketSimilar:
		points += WeightSimilarName
		reasons = append(reasons, models.ReasonSimilarName)
	}

	if a.BirthDate != "" && b.BirthDate != "" {
		maxPoints += WeightBirthDate
		if a.BirthDate == b.BirthDate {
			points += WeightBirthDate
			reasons = append(reasons, models.ReasonBirthDate)
		}
	}

	score := 0.0
	if maxPoints > 0 {
		score = float64(points) / float64(maxPoints) * 100
	}

	return models.SimilarityResult{
		ClientAID: a.ID,
		ClientBID: b.ID,
		Score:     score,
		Points:    points,
		MaxPoints: maxPoints,
		Tier:      TierFor(score, points),
		Reasons:   reasons,
	}
}

// TierFor buckets a score.
func TierFor(percent float64, points int) models.ConfidenceTier {
	switch {
	case percent >= highPercent || points >= highPoints:
		return models.TierHigh
	case percent >= mediumPercent || points >= mediumPoints:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

func sameSuffix(a, b string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	return a[len(a)-n:] == b[len(b)-n:]
}

type similarityBucket int

const (
	bucketDissimilar similarityBucket = iota
	bucketSimilar
	bucketVerySimilar
)

// nameBucket compares in integers so the 0.9 and 0.7 boundaries are exact.
func nameBucket(a, b string) similarityBucket {
	longest, distance := nameDistance(a, b)
	if longest == 0 {
		return bucketVerySimilar
	}
	same := longest - distance
	switch {
	case same*10 >= longest*9:
		return bucketVerySimilar
	case same*10 >= longest*7:
		return bucketSimilar
	default:
		return bucketDissimilar
	}
}

func nameDistance(a, b string) (longest, distance int) {
	longest = utf8.RuneCountInString(a)
	if lb := utf8.RuneCountInString(b); lb > longest {
		longest = lb
	}
	if a == b {
		return longest, 0
	}
	return longest, levenshtein.ComputeDistance(a, b)
}

// NameSimilarity is 1 - distance/longest over normalized names, 1.0 for two empty names.
func NameSimilarity(a, b string) float64 {
	a, b = normalizers.NormalizeName(a), normalizers.NormalizeName(b)
	longest, distance := nameDistance(a, b)
	if longest == 0 {
		return 1.0
	}
	return 1 - float64(distance)/float64(longest)
}

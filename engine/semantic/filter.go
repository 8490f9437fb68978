package semantic

import (
	"time"

	pb "github.com/qdrant/go-client/qdrant"
)

// FilterBuilder assembles a conjunctive Qdrant filter over the recognized
// payload keys. The builder is the only way filters are constructed, so an
// unrecognized key cannot be matched by accident.
type FilterBuilder struct {
	must []*pb.Condition
}

// NewFilter starts an empty conjunctive filter.
func NewFilter() *FilterBuilder { return &FilterBuilder{} }

// CourseID requires an exact course match.
func (b *FilterBuilder) CourseID(id string) *FilterBuilder {
	if id != "" {
		b.must = append(b.must, fieldMatch(PayloadCourseID, id))
	}
	return b
}

// Resources requires the resource id to be any of the given ids.
func (b *FilterBuilder) Resources(ids []string) *FilterBuilder {
	if len(ids) > 0 {
		b.must = append(b.must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: PayloadResourceID,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: ids}},
					},
				},
			},
		})
	}
	return b
}

// QualityRange bounds the quality score. A zero bound is unconstrained.
func (b *FilterBuilder) QualityRange(min, max float64) *FilterBuilder {
	if min == 0 && max == 0 {
		return b
	}
	r := &pb.Range{}
	if min > 0 {
		r.Gte = &min
	}
	if max > 0 {
		r.Lte = &max
	}
	b.must = append(b.must, &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: PayloadQuality, Range: r},
		},
	})
	return b
}

// Language requires an exact language match.
func (b *FilterBuilder) Language(lang string) *FilterBuilder {
	if lang != "" {
		b.must = append(b.must, fieldMatch(PayloadLanguage, lang))
	}
	return b
}

// CreatedBetween bounds the ingestion timestamp. Zero times are open ends.
func (b *FilterBuilder) CreatedBetween(since, until time.Time) *FilterBuilder {
	if since.IsZero() && until.IsZero() {
		return b
	}
	r := &pb.Range{}
	if !since.IsZero() {
		gte := float64(since.Unix())
		r.Gte = &gte
	}
	if !until.IsZero() {
		lte := float64(until.Unix())
		r.Lte = &lte
	}
	b.must = append(b.must, &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: PayloadCreatedAt, Range: r},
		},
	})
	return b
}

// DocID requires an exact source-document match.
func (b *FilterBuilder) DocID(id string) *FilterBuilder {
	if id != "" {
		b.must = append(b.must, fieldMatch(PayloadDocID, id))
	}
	return b
}

// Build returns the assembled filter, or nil when no condition was added.
func (b *FilterBuilder) Build() *pb.Filter {
	if len(b.must) == 0 {
		return nil
	}
	return &pb.Filter{Must: b.must}
}

// buildFilter converts a Filters value through the builder.
func buildFilter(f Filters) *pb.Filter {
	return NewFilter().
		CourseID(f.CourseID).
		Resources(f.ResourceIDs).
		QualityRange(f.MinQuality, f.MaxQuality).
		Language(f.Language).
		CreatedBetween(f.Since, f.Until).
		Build()
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

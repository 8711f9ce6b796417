package route

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"routedesk/internal/model"
)

func sampleSequence() model.Sequence {
	return model.Sequence{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", EstimatedTime: "08:00 AM", Traffic: model.TrafficLight},
		{ID: "c", Name: "C"},
	}
}

func TestMergeAttachesByID(t *testing.T) {
	ann := []model.Annotation{
		{StopID: "c", ETA: "10:30 AM", Traffic: model.TrafficHeavy},
		{StopID: "a", ETA: "09:15 AM", Traffic: model.TrafficModerate},
		{StopID: "zzz", ETA: "01:00 PM", Traffic: model.TrafficLight},
	}

	got := Merge(sampleSequence(), ann)
	assert.Equal(t, []string{"a", "b", "c"}, got.IDs())
	assert.Equal(t, "09:15 AM", got[0].EstimatedTime)
	assert.Equal(t, model.TrafficModerate, got[0].Traffic)
	// unmatched stop keeps what it had
	assert.Equal(t, "08:00 AM", got[1].EstimatedTime)
	assert.Equal(t, model.TrafficLight, got[1].Traffic)
	assert.Equal(t, "10:30 AM", got[2].EstimatedTime)
}

func TestMergeIdempotent(t *testing.T) {
	ann := []model.Annotation{{StopID: "b", ETA: "09:40 AM", Traffic: model.TrafficHeavy}}

	once := Merge(sampleSequence(), ann)
	twice := Merge(once, ann)
	assert.Equal(t, once, twice)
}

func TestMergeEmptyAnnotations(t *testing.T) {
	seq := sampleSequence()
	assert.Equal(t, seq, Merge(seq, nil))
}

func TestMergeLastDuplicateWins(t *testing.T) {
	ann := []model.Annotation{
		{StopID: "a", ETA: "09:00 AM", Traffic: model.TrafficLight},
		{StopID: "a", ETA: "09:30 AM", Traffic: model.TrafficHeavy},
	}
	got := Merge(sampleSequence(), ann)
	assert.Equal(t, "09:30 AM", got[0].EstimatedTime)
	assert.Equal(t, model.TrafficHeavy, got[0].Traffic)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	seq := sampleSequence()
	_ = Merge(seq, []model.Annotation{{StopID: "a", ETA: "09:00 AM", Traffic: model.TrafficLight}})
	assert.Empty(t, seq[0].EstimatedTime)
}

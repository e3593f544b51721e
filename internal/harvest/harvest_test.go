package harvest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectsKeepEncounterOrder(t *testing.T) {
	t.Parallel()

	s := NewSubjects()
	s.Set("Maths", "A")
	s.Set("Physics", "B")
	s.Set("Maths", "C")

	assert.Equal(t, []string{"Maths", "Physics"}, s.Keys())
	assert.Equal(t, 2, s.Len())
	grade, ok := s.Get("Maths")
	require.True(t, ok)
	assert.Equal(t, "C", grade)

	s.Reset()
	assert.Zero(t, s.Len())
	_, ok = s.Get("Physics")
	assert.False(t, ok)
}

func TestNilSubjectsAreEmpty(t *testing.T) {
	t.Parallel()

	var s *Subjects
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Keys())
	_, ok := s.Get("Maths")
	assert.False(t, ok)
	assert.NotNil(t, Record{}.SubjectSet())
}

func TestNotFoundRecordIsUniform(t *testing.T) {
	t.Parallel()

	rec := NewNotFoundRecord()
	require.True(t, rec.NotFound)
	for _, v := range append(rec.Leading(), rec.Trailing()...) {
		assert.Equal(t, NotFoundText, v)
	}
	assert.Zero(t, rec.Subjects.Len())
}

func TestRangeIdentifiers(t *testing.T) {
	t.Parallel()

	r := Range{Prefix: "0805cs24", Start: 1001, End: 1003, Width: 3}
	require.NoError(t, r.Validate())
	assert.Equal(t, []string{"0805cs241001", "0805cs241002", "0805cs241003"}, r.Identifiers())

	padded := Range{Prefix: "0805cs24me", Start: 1, End: 2, Width: 2}
	assert.Equal(t, []string{"0805cs24me01", "0805cs24me02"}, padded.Identifiers())
}

func TestRangeValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Range{Start: 5, End: 4}.Validate())
	assert.Error(t, Range{Start: -1, End: 4}.Validate())
	assert.Error(t, Range{Start: 1, End: 4, Width: -2}.Validate())
	assert.Nil(t, Range{Start: 5, End: 4}.Identifiers())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		LabelMerged:   nil,
		LabelTimedOut: fmt.Errorf("select program: %w", ErrNavigationTimeout),
		LabelRejected: fmt.Errorf("after 3 attempts: %w", ErrCaptchaRejected),
		LabelNotFound: ErrRecordNotFound,
		LabelNoOption: fmt.Errorf("semester 9: %w", ErrOptionNotFound),
		LabelCanceled: context.Canceled,
		LabelFailed:   errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Classify(err), "error %v", err)
	}
}

package service

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/rules"
	"github.com/plategate/plategate/internal/rulestore"
)

func checkSettings(t *testing.T) *conf.Settings {
	t.Helper()

	settings := &conf.Settings{}
	settings.Decision.ConfidenceThreshold = 60
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "plategate.db")
	return settings
}

func seedRule(t *testing.T, settings *conf.Settings, rec rules.Rule) rules.Rule {
	t.Helper()

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	saved, err := rulestore.New(ds).CreateRule(&rec)
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	return saved
}

func TestRunCheckGrantsListedPlate(t *testing.T) {
	t.Parallel()
	settings := checkSettings(t)
	saved := seedRule(t, settings, rules.Rule{
		PropertyID: "prop-1",
		Plate:      "ABC-1234",
		Category:   rules.CategoryAllow,
	})

	var buf bytes.Buffer
	err := RunCheck(settings, CheckOptions{
		Plate:      "abc 1234",
		PropertyID: "prop-1",
		Confidence: 92,
		JSON:       true,
	}, &buf)
	require.NoError(t, err)

	var out checkOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, string(decision.Granted), out.Outcome)
	assert.Equal(t, "matched allow list", out.Reason)
	assert.Equal(t, saved.ID, out.MatchedRuleID)
	assert.Equal(t, "ABC1234", out.NormalizedPlate)
	assert.Equal(t, uint64(1), out.SnapshotVersion)
	assert.NotEmpty(t, out.Fingerprint)
}

func TestRunCheckTextOutput(t *testing.T) {
	t.Parallel()
	settings := checkSettings(t)
	seedRule(t, settings, rules.Rule{
		PropertyID: "prop-1",
		Plate:      "BAD-1",
		Category:   rules.CategoryDeny,
	})

	var buf bytes.Buffer
	err := RunCheck(settings, CheckOptions{
		Plate:      "BAD-1",
		PropertyID: "prop-1",
		Confidence: 100,
	}, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "outcome:    denied")
	assert.Contains(t, out, "matched deny list")
	assert.Contains(t, out, "snapshot:   v1")
}

func TestRunCheckUnknownPropertyServesVersionZero(t *testing.T) {
	t.Parallel()
	settings := checkSettings(t)

	var buf bytes.Buffer
	err := RunCheck(settings, CheckOptions{
		Plate:      "ABC-1234",
		PropertyID: "ghost",
		Confidence: 100,
		JSON:       true,
	}, &buf)
	require.NoError(t, err)

	var out checkOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, string(decision.Unknown), out.Outcome)
	assert.Equal(t, decision.ReasonNoMatchingRule, out.Reason)
	assert.Equal(t, uint64(0), out.SnapshotVersion)
}

func TestRunCheckBelowThreshold(t *testing.T) {
	t.Parallel()
	settings := checkSettings(t)
	seedRule(t, settings, rules.Rule{
		PropertyID: "prop-1",
		Plate:      "ABC-1234",
		Category:   rules.CategoryAllow,
	})

	var buf bytes.Buffer
	err := RunCheck(settings, CheckOptions{
		Plate:      "ABC-1234",
		PropertyID: "prop-1",
		Confidence: 12,
		JSON:       true,
	}, &buf)
	require.NoError(t, err)

	var out checkOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, string(decision.Unknown), out.Outcome)
	assert.Equal(t, decision.ReasonBelowThreshold, out.Reason)
}

func TestRunCheckRequiresProperty(t *testing.T) {
	t.Parallel()
	settings := checkSettings(t)

	var buf bytes.Buffer
	err := RunCheck(settings, CheckOptions{Plate: "ABC-1234"}, &buf)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, buf.Len())
}

func TestValidateEdgeSettings(t *testing.T) {
	t.Parallel()

	valid := func() *conf.Settings {
		s := &conf.Settings{}
		s.Edge.DeviceID = "edge-1"
		s.Edge.PropertyID = "prop-1"
		s.Edge.CloudURL = "http://cloud.local:8080"
		return s
	}

	t.Run("complete", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validateEdgeSettings(valid()))
	})

	for _, tc := range []struct {
		name  string
		strip func(*conf.Settings)
	}{
		{"missing device id", func(s *conf.Settings) { s.Edge.DeviceID = "" }},
		{"missing property id", func(s *conf.Settings) { s.Edge.PropertyID = "" }},
		{"missing cloud url", func(s *conf.Settings) { s.Edge.CloudURL = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tc.strip(s)
			err := validateEdgeSettings(s)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

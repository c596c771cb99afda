package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func topicList(names ...string) []TopicDirective {
	out := make([]TopicDirective, len(names))
	for i, name := range names {
		out[i] = TopicDirective{Topic: name, Role: RoleProducer}
	}
	return out
}

func TestValidateUniqueTopics(t *testing.T) {
	t.Run("accepts unique topics", func(t *testing.T) {
		assert.Empty(t, ValidateUniqueTopics(topicList("a", "b", "c")))
	})

	t.Run("accepts empty list", func(t *testing.T) {
		assert.Empty(t, ValidateUniqueTopics(nil))
	})

	t.Run("reports duplicate with count", func(t *testing.T) {
		errs := ValidateUniqueTopics(topicList("t", "t"))
		require.Len(t, errs, 1)
		assert.Equal(t, "topic t appears 2 times", errs[0])
	})

	t.Run("reports every duplicate in one pass", func(t *testing.T) {
		errs := ValidateUniqueTopics(topicList("a", "b", "a", "b", "b", "c"))
		require.Len(t, errs, 2)
		assert.Contains(t, errs, "topic a appears 2 times")
		assert.Contains(t, errs, "topic b appears 3 times")
	})
}

func TestValidateBootstrapServers(t *testing.T) {
	valid := []string{
		"h:1",
		"h:1,h2:2",
		"broker-1.internal:9092,broker-2.internal:9092,broker-3.internal:9092",
	}
	for _, servers := range valid {
		t.Run("accepts "+servers, func(t *testing.T) {
			td := TopicDirective{Topic: "t", Role: RoleProducer, BootstrapServers: servers}
			assert.NoError(t, ValidateBootstrapServers(td))
		})
	}

	t.Run("accepts absent override", func(t *testing.T) {
		td := TopicDirective{Topic: "t", Role: RoleProducer}
		assert.NoError(t, ValidateBootstrapServers(td))
	})

	invalid := []string{
		"",
		"h",
		"h:abc",
		"h:",
		",h:1",
		":9092",
		"h:-1",
	}
	for _, servers := range invalid {
		name := servers
		if name == "" {
			name = "empty string"
		}
		t.Run("rejects "+name, func(t *testing.T) {
			err := checkBootstrapFormat(servers)
			assert.Error(t, err)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("decodes yaml manifest", func(t *testing.T) {
		data := []byte(`
bucket: s3://tests/suite-1
jimfsLocation: /work/features
evidenceDir: /work/evidence
topicDirectives:
  - topic: orders
    role: producer
    clientPrincipal: svc-orders
  - topic: shipments
    role: consumer
    clientPrincipal: svc-shipments
    eventFilters:
      - eventType: shipment.created
        payloadVersion: v1
userGluePackages:
  - probe
tags: "@smoke"
`)
		d, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "/work/features", d.JimfsLocation)
		require.Len(t, d.TopicDirectives, 2)
		assert.Equal(t, RoleConsumer, d.TopicDirectives[1].Role)
		require.Len(t, d.TopicDirectives[1].EventFilters, 1)
		assert.Equal(t, "shipment.created", d.TopicDirectives[1].EventFilters[0].EventType)
		assert.Equal(t, "@smoke", d.Tags)
	})

	t.Run("decodes json manifest", func(t *testing.T) {
		data := []byte(`{
			"jimfsLocation": "/work/features",
			"evidenceDir": "/work/evidence",
			"topicDirectives": [{"topic": "t", "role": "producer"}]
		}`)
		d, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "t", d.TopicDirectives[0].Topic)
	})

	t.Run("ignores unknown fields", func(t *testing.T) {
		data := []byte(`
jimfsLocation: /w
evidenceDir: /e
futureKnob: 42
topicDirectives:
  - topic: t
    role: producer
`)
		_, err := Decode(data)
		assert.NoError(t, err)
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		_, err := Decode([]byte(`{"topicDirectives": [{"topic":"t","role":"producer"}]}`))
		assert.Error(t, err)
	})

	t.Run("rejects invalid role", func(t *testing.T) {
		data := []byte(`
jimfsLocation: /w
evidenceDir: /e
topicDirectives:
  - topic: t
    role: spectator
`)
		_, err := Decode(data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid role")
	})

	t.Run("rejects non-document input", func(t *testing.T) {
		_, err := Decode([]byte(`: not yaml :`))
		assert.Error(t, err)
	})
}

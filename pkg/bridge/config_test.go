package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
systems:
  robot:
    type: inproc
  cloud:
    type: redis
    config:
      url: redis://localhost:6379
types:
  paths: [schemas]
  files: [geometry/pose.proto, nav/nav.proto]
routes:
  topics:
    - name: /pose
      type: geometry.Pose
      from: robot
      to: [cloud]
  services:
    - name: /get_map
      type: nav.Navigation
      server: cloud
      clients: [robot]
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Systems, 2)
	assert.Equal(t, "inproc", cfg.Systems["robot"].Type)
	assert.Equal(t, "redis", cfg.Systems["cloud"].Type)
	assert.NotZero(t, cfg.Systems["cloud"].Config.Kind, "middleware fragment should be preserved")
	assert.Zero(t, cfg.Systems["robot"].Config.Kind, "absent fragment stays empty")

	require.Len(t, cfg.Routes.Topics, 1)
	assert.Equal(t, "/pose", cfg.Routes.Topics[0].Name)
	assert.Equal(t, []string{"cloud"}, cfg.Routes.Topics[0].To)

	require.Len(t, cfg.Routes.Services, 1)
	assert.Equal(t, "cloud", cfg.Routes.Services[0].Server)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "not yaml",
			doc:  "systems: [",
			want: "",
		},
		{
			name: "no systems",
			doc:  "routes: {}",
			want: "no systems",
		},
		{
			name: "system without type",
			doc: `
systems:
  robot: {}
`,
			want: "has no type",
		},
		{
			name: "topic route unknown source",
			doc: `
systems:
  robot: {type: inproc}
routes:
  topics:
    - {name: /pose, type: geometry.Pose, from: ghost, to: [robot]}
`,
			want: "unknown source system",
		},
		{
			name: "topic route unknown destination",
			doc: `
systems:
  robot: {type: inproc}
routes:
  topics:
    - {name: /pose, type: geometry.Pose, from: robot, to: [ghost]}
`,
			want: "unknown destination system",
		},
		{
			name: "topic route to itself",
			doc: `
systems:
  robot: {type: inproc}
routes:
  topics:
    - {name: /pose, type: geometry.Pose, from: robot, to: [robot]}
`,
			want: "to itself",
		},
		{
			name: "topic route without destinations",
			doc: `
systems:
  robot: {type: inproc}
routes:
  topics:
    - {name: /pose, type: geometry.Pose, from: robot}
`,
			want: "no destinations",
		},
		{
			name: "duplicate topic route",
			doc: `
systems:
  robot: {type: inproc}
  cloud: {type: redis}
routes:
  topics:
    - {name: /pose, type: geometry.Pose, from: robot, to: [cloud]}
    - {name: /pose, type: geometry.Pose, from: robot, to: [cloud]}
`,
			want: "duplicate topic route",
		},
		{
			name: "service route unknown server",
			doc: `
systems:
  robot: {type: inproc}
routes:
  services:
    - {name: /get_map, type: nav.Navigation, server: ghost, clients: [robot]}
`,
			want: "unknown server system",
		},
		{
			name: "service route server is client",
			doc: `
systems:
  robot: {type: inproc}
routes:
  services:
    - {name: /get_map, type: nav.Navigation, server: robot, clients: [robot]}
`,
			want: "both server and client",
		},
		{
			name: "service route without clients",
			doc: `
systems:
  robot: {type: inproc}
routes:
  services:
    - {name: /get_map, type: nav.Navigation, server: robot}
`,
			want: "no client systems",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.doc))
			require.Error(t, err)
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestRequiredFor(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	robot := cfg.RequiredFor("robot")
	assert.Contains(t, robot.Messages, "geometry.Pose")
	assert.Contains(t, robot.Services, "nav.Navigation")

	cloud := cfg.RequiredFor("cloud")
	assert.Contains(t, cloud.Messages, "geometry.Pose")
	assert.Contains(t, cloud.Services, "nav.Navigation")

	ghost := cfg.RequiredFor("ghost")
	assert.Empty(t, ghost.Messages)
	assert.Empty(t, ghost.Services)
}

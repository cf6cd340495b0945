package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poseProto = `
syntax = "proto3";
package geometry;

message Pose {
  double x = 1;
  double y = 2;
  string frame = 3;
}
`

const navProto = `
syntax = "proto3";
package nav;

message MapRequest {
  string region = 1;
}

message MapResponse {
  string region = 1;
  bytes tiles = 2;
}

service Navigation {
  rpc GetMap(MapRequest) returns (MapResponse);
}
`

func compileTestTypes(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	err := CompileSources(context.Background(), reg, map[string]string{
		"geometry/pose.proto": poseProto,
		"nav/nav.proto":       navProto,
	})
	require.NoError(t, err)
	return reg
}

func TestCompileSources_RegistersMessagesAndServices(t *testing.T) {
	reg := compileTestTypes(t)

	md, ok := reg.Message("geometry.Pose")
	require.True(t, ok)
	assert.Equal(t, "geometry.Pose", string(md.FullName()))

	_, ok = reg.Message("nav.MapRequest")
	assert.True(t, ok)

	svc, ok := reg.Service("nav.Navigation/GetMap")
	require.True(t, ok)
	assert.Equal(t, "/nav.Navigation/GetMap", svc.FullMethod)
	assert.Equal(t, "nav.MapRequest", string(svc.Request.FullName()))
	assert.Equal(t, "nav.MapResponse", string(svc.Response.FullName()))

	// Single-method services also register under the bare service name.
	alias, ok := reg.Service("nav.Navigation")
	require.True(t, ok)
	assert.Equal(t, svc.FullMethod, alias.FullMethod)
}

func TestCompileSources_BadSchema(t *testing.T) {
	reg := NewRegistry()
	err := CompileSources(context.Background(), reg, map[string]string{
		"broken.proto": "syntax = \"proto3\"; message {",
	})
	assert.Error(t, err)
}

func TestRegistry_Missing(t *testing.T) {
	reg := compileTestTypes(t)

	req := NewRequired()
	req.AddMessage("geometry.Pose")
	req.AddMessage("geometry.Twist")
	req.AddService("nav.Navigation")
	req.AddService("nav.Planner")

	missing := reg.Missing(req)
	assert.Equal(t, []string{"geometry.Twist", "nav.Planner"}, missing)

	satisfied := NewRequired()
	satisfied.AddMessage("geometry.Pose")
	satisfied.AddService("nav.Navigation/GetMap")
	assert.Empty(t, reg.Missing(satisfied))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.RegisterMessage(nil))
	assert.Error(t, reg.RegisterService(Service{}))
	assert.Error(t, reg.RegisterService(Service{Name: "x"}))
}

func TestData_RoundTrip(t *testing.T) {
	reg := compileTestTypes(t)
	md, _ := reg.Message("geometry.Pose")

	d := NewData(md)
	require.NoError(t, d.Set("x", 1.5))
	require.NoError(t, d.Set("frame", "map"))

	b, err := d.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(md, b)
	require.NoError(t, err)

	x, err := decoded.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 1.5, x)

	frame, err := decoded.Get("frame")
	require.NoError(t, err)
	assert.Equal(t, "map", frame)
}

func TestData_TypeIdentity(t *testing.T) {
	reg := compileTestTypes(t)
	pose, _ := reg.Message("geometry.Pose")
	request, _ := reg.Message("nav.MapRequest")

	d := NewData(pose)
	assert.Equal(t, "geometry.Pose", d.TypeName())
	assert.True(t, d.Is(pose))
	assert.False(t, d.Is(request))
}

func TestData_Clone(t *testing.T) {
	reg := compileTestTypes(t)
	md, _ := reg.Message("geometry.Pose")

	d := NewData(md)
	require.NoError(t, d.Set("frame", "odom"))

	c := d.Clone()
	require.NoError(t, c.Set("frame", "map"))

	orig, err := d.Get("frame")
	require.NoError(t, err)
	assert.Equal(t, "odom", orig)
}

func TestData_SetErrors(t *testing.T) {
	reg := compileTestTypes(t)
	md, _ := reg.Message("geometry.Pose")
	d := NewData(md)

	assert.Error(t, d.Set("missing", "v"))
	assert.Error(t, d.Set("frame", 42))

	_, err := d.Get("missing")
	assert.Error(t, err)
}

package types

import (
	"context"
	"fmt"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// CompileFiles compiles .proto schema files resolved against the given
// import paths and registers every message and service type they define.
// This is how the router pre-registers types from IDL sources before any
// adapter is configured.
func CompileFiles(ctx context.Context, reg *Registry, importPaths []string, files []string) error {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			ImportPaths: importPaths,
		}),
	}
	return compileInto(ctx, reg, &compiler, files)
}

// CompileSources compiles in-memory proto sources keyed by filename. Tests
// and embedders use it to register types without touching the filesystem.
func CompileSources(ctx context.Context, reg *Registry, sources map[string]string) error {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(sources),
		}),
	}
	files := make([]string, 0, len(sources))
	for name := range sources {
		files = append(files, name)
	}
	return compileInto(ctx, reg, &compiler, files)
}

func compileInto(ctx context.Context, reg *Registry, compiler *protocompile.Compiler, files []string) error {
	if len(files) == 0 {
		return nil
	}
	compiled, err := compiler.Compile(ctx, files...)
	if err != nil {
		return fmt.Errorf("compiling schemas: %w", err)
	}
	for _, fd := range compiled {
		if err := RegisterFile(reg, fd); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFile walks a compiled file descriptor and registers its message
// and service types. A service method registers under
// "pkg.Service/Method"; a single-method service additionally registers under
// the bare service name so routes can use the shorter form.
func RegisterFile(reg *Registry, fd protoreflect.FileDescriptor) error {
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		if err := registerMessageTree(reg, msgs.Get(i)); err != nil {
			return err
		}
	}

	svcs := fd.Services()
	for i := 0; i < svcs.Len(); i++ {
		sd := svcs.Get(i)
		methods := sd.Methods()
		for j := 0; j < methods.Len(); j++ {
			m := methods.Get(j)
			if m.IsStreamingClient() || m.IsStreamingServer() {
				// The bridge correlates one request to one response;
				// streaming methods have no place in that model.
				continue
			}
			svc := Service{
				Name:       fmt.Sprintf("%s/%s", sd.FullName(), m.Name()),
				FullMethod: fmt.Sprintf("/%s/%s", sd.FullName(), m.Name()),
				Request:    m.Input(),
				Response:   m.Output(),
			}
			if err := reg.RegisterService(svc); err != nil {
				return err
			}
			if methods.Len() == 1 {
				alias := svc
				alias.Name = string(sd.FullName())
				if err := reg.RegisterService(alias); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func registerMessageTree(reg *Registry, md protoreflect.MessageDescriptor) error {
	if md.IsMapEntry() {
		return nil
	}
	if err := reg.RegisterMessage(md); err != nil {
		return err
	}
	nested := md.Messages()
	for i := 0; i < nested.Len(); i++ {
		if err := registerMessageTree(reg, nested.Get(i)); err != nil {
			return err
		}
	}
	return nil
}

package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func discover(t *testing.T, root string) []string {
	t.Helper()
	res, err := Files(context.Background(), root, Options{})
	require.NoError(t, err)
	return res.Files
}

func TestFiles_Directory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "Program.cs", "class P {}")
	writeFile(t, dir, "Lib/Util.cs", "class U {}")
	writeFile(t, dir, "readme.md", "hi")
	writeFile(t, dir, ".hidden.cs", "class H {}")

	assert.Equal(t, []string{"Lib/Util.cs", "Program.cs"}, discover(t, dir))
}

func TestFiles_SkipsIgnoredDirectories(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "App.cs", "")
	for _, d := range []string{"bin", "obj", ".git", ".vs", "node_modules", "packages", ".cache"} {
		writeFile(t, dir, d+"/X.cs", "")
	}
	writeFile(t, dir, "Obj/Y.cs", "")

	assert.Equal(t, []string{"App.cs"}, discover(t, dir), "directory names match case-insensitively")
}

func TestFiles_ExtraIgnores(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "App.cs", "")
	writeFile(t, dir, "Generated/G.cs", "")

	res, err := Files(context.Background(), dir, Options{ExtraIgnores: []string{"generated"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"App.cs"}, res.Files)
}

func TestFiles_Gitignore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "*.g.cs\nscratch/\n")
	writeFile(t, dir, "App.cs", "")
	writeFile(t, dir, "App.g.cs", "")
	writeFile(t, dir, "scratch/Tmp.cs", "")

	assert.Equal(t, []string{"App.cs"}, discover(t, dir))
}

func TestFiles_MissingRoot(t *testing.T) {
	t.Parallel()
	_, err := Files(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

const sdkProject = `<Project Sdk="Microsoft.NET.Sdk">
  <ItemGroup>
    <Compile Remove="Generated\**" />
    <ProjectReference Include="..\Lib\Lib.csproj" />
  </ItemGroup>
</Project>
`

const libProject = `<Project Sdk="Microsoft.NET.Sdk">
  <ItemGroup>
    <ProjectReference Include="..\App\App.csproj" />
  </ItemGroup>
</Project>
`

func TestFiles_ProjectReferencesWithCycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "App/App.csproj", sdkProject)
	writeFile(t, dir, "App/Program.cs", "")
	writeFile(t, dir, "App/Generated/Gen.cs", "")
	writeFile(t, dir, "App/obj/Debug/AssemblyInfo.cs", "")
	writeFile(t, dir, "Lib/Lib.csproj", libProject)
	writeFile(t, dir, "Lib/Repo.cs", "")
	writeFile(t, dir, "App.sln", `Microsoft Visual Studio Solution File, Format Version 12.00
Project("{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}") = "App", "App\App.csproj", "{11111111-1111-1111-1111-111111111111}"
EndProject
Project("{2150E333-8FDC-42A3-9474-1A3956D46DE8}") = "Docs", "Docs", "{22222222-2222-2222-2222-222222222222}"
EndProject
`)

	res, err := Files(context.Background(), filepath.Join(dir, "App.sln"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"App/Program.cs", "Lib/Repo.cs"}, res.Files)
	assert.Equal(t, []string{"App/App.csproj", "Lib/Lib.csproj"}, res.Projects)
}

func TestFiles_LegacyProjectExplicitItems(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "Old.csproj", `<?xml version="1.0" encoding="utf-8"?>
<Project ToolsVersion="15.0" xmlns="http://schemas.microsoft.com/developer/msbuild/2003">
  <ItemGroup>
    <Compile Include="Main.cs" />
    <Compile Include="Models\*.cs;Views\**\*.cs" />
  </ItemGroup>
</Project>
`)
	writeFile(t, dir, "Main.cs", "")
	writeFile(t, dir, "Unlisted.cs", "")
	writeFile(t, dir, "Models/User.cs", "")
	writeFile(t, dir, "Models/Nested/Deep.cs", "")
	writeFile(t, dir, "Views/Home/Index.cs", "")

	res, err := Files(context.Background(), filepath.Join(dir, "Old.csproj"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Main.cs", "Models/User.cs", "Views/Home/Index.cs"}, res.Files)
}

func TestFiles_DefaultItemsDisabled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "P.csproj", `<Project Sdk="Microsoft.NET.Sdk">
  <PropertyGroup><EnableDefaultCompileItems>false</EnableDefaultCompileItems></PropertyGroup>
  <ItemGroup><Compile Include="Only.cs" /></ItemGroup>
</Project>`)
	writeFile(t, dir, "Only.cs", "")
	writeFile(t, dir, "Other.cs", "")

	res, err := Files(context.Background(), filepath.Join(dir, "P.csproj"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Only.cs"}, res.Files)
}

func TestFiles_MissingReferencedProject(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "App.csproj", `<Project Sdk="Microsoft.NET.Sdk">
  <ItemGroup><ProjectReference Include="Missing\Missing.csproj" /></ItemGroup>
</Project>`)

	_, err := Files(context.Background(), filepath.Join(dir, "App.csproj"), Options{})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestFiles_ReferenceEscapingRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "outside/Other.csproj", `<Project Sdk="Microsoft.NET.Sdk" />`)
	writeFile(t, dir, "repo/App.csproj", `<Project Sdk="Microsoft.NET.Sdk">
  <ItemGroup><ProjectReference Include="..\outside\Other.csproj" /></ItemGroup>
</Project>`)

	_, err := Files(context.Background(), filepath.Join(dir, "repo", "App.csproj"), Options{})
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestFiles_DeduplicatesCaseInsensitively(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "P.csproj", `<Project Sdk="Microsoft.NET.Sdk">
  <ItemGroup><Compile Include="A.cs" /></ItemGroup>
</Project>`)
	writeFile(t, dir, "A.cs", "")

	res, err := Files(context.Background(), filepath.Join(dir, "P.csproj"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A.cs"}, res.Files, "default glob and explicit include name the same file")
}

func TestFiles_Canceled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "sub/A.cs", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Files(ctx, dir, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

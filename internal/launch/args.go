package launch

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/lodestone-mc/lodestone/internal/mojang"
)

const launcherName = "lodestone"

// Default window size substituted for ${resolution_width/height}.
const (
	defaultResolutionWidth  = "854"
	defaultResolutionHeight = "480"
)

// defaultJVMArgs are the baseline GC settings applied to every launch.
var defaultJVMArgs = []string{
	"-XX:+UseG1GC",
	"-XX:+UnlockExperimentalVMOptions",
	"-XX:G1NewSizePercent=20",
	"-XX:G1ReservePercent=20",
	"-XX:MaxGCPauseMillis=50",
	"-XX:G1HeapRegionSize=32M",
}

// Spec is a fully assembled game invocation, ready to hand to the
// process spawner.
type Spec struct {
	JavaPath  string
	JVMArgs   []string
	MainClass string
	GameArgs  []string
	WorkDir   string
}

// CommandLine returns the argument vector following the java
// executable.
func (s *Spec) CommandLine() []string {
	args := make([]string, 0, len(s.JVMArgs)+1+len(s.GameArgs))
	args = append(args, s.JVMArgs...)
	args = append(args, s.MainClass)
	args = append(args, s.GameArgs...)

	return args
}

// SpecOptions carry the per-launch inputs that do not come from the
// version descriptor.
type SpecOptions struct {
	// JavaPath is the java executable to launch with.
	JavaPath string

	// GameDir is the working directory (an instance directory, or the
	// data directory itself). Saves and logs land here.
	GameDir string

	// MemoryMB is the maximum heap size. The minimum heap is set to
	// half of it.
	MemoryMB int

	// ExtraJVMArgs and ExtraGameArgs are appended from instance
	// settings.
	ExtraJVMArgs  []string
	ExtraGameArgs []string

	// Server, when set ("host" or "host:port"), makes the game connect
	// on startup.
	Server string

	// LauncherVersion is substituted for ${launcher_version}.
	LauncherVersion string
}

// BuildSpec assembles the process invocation for a prepared launch
// context: JVM arguments, classpath, main class, and game arguments
// with every ${variable} substituted.
func BuildSpec(lc *Context, opts SpecOptions) (*Spec, error) {
	res := lc.Resolution
	desc := res.Descriptor

	vars := substitutions(lc, opts)

	jvmArgs, err := buildJVMArgs(lc, opts, vars)
	if err != nil {
		return nil, err
	}

	gameArgs, err := buildGameArgs(res, vars)
	if err != nil {
		return nil, err
	}

	gameArgs = append(gameArgs, opts.ExtraGameArgs...)

	if opts.Server != "" {
		host, port, splitErr := net.SplitHostPort(opts.Server)
		if splitErr != nil {
			host, port = opts.Server, ""
		}

		gameArgs = append(gameArgs, "--server", host)
		if port != "" {
			gameArgs = append(gameArgs, "--port", port)
		}
	}

	workDir := opts.GameDir
	if workDir == "" {
		workDir = lc.DataDir
	}

	return &Spec{
		JavaPath:  opts.JavaPath,
		JVMArgs:   jvmArgs,
		MainClass: desc.MainClass,
		GameArgs:  gameArgs,
		WorkDir:   workDir,
	}, nil
}

// buildJVMArgs orders the JVM half of the command line: memory, GC
// defaults, instance overrides, launcher branding, then the
// descriptor's own JVM arguments. Legacy descriptors carry no JVM
// argument list, so the classpath and natives path are added
// explicitly for them.
func buildJVMArgs(lc *Context, opts SpecOptions, vars map[string]string) ([]string, error) {
	res := lc.Resolution

	var args []string

	if opts.MemoryMB > 0 {
		args = append(args,
			fmt.Sprintf("-Xms%dM", opts.MemoryMB/2),
			fmt.Sprintf("-Xmx%dM", opts.MemoryMB))
	}

	args = append(args, defaultJVMArgs...)
	args = append(args, opts.ExtraJVMArgs...)
	args = append(args,
		"-Dminecraft.launcher.brand="+launcherName,
		"-Dminecraft.launcher.version="+vars["launcher_version"])

	if res.Descriptor.Arguments != nil && len(res.Descriptor.Arguments.JVM) > 0 {
		evaluated, err := evalArguments(res.Descriptor.Arguments.JVM, res.Platform, vars, false)
		if err != nil {
			return nil, fmt.Errorf("launch: jvm arguments: %w", err)
		}

		return append(args, evaluated...), nil
	}

	// Pre-1.13 descriptors expect the launcher to supply these.
	args = append(args,
		"-Djava.library.path="+vars["natives_directory"],
		"-cp", vars["classpath"])

	return args, nil
}

// buildGameArgs evaluates the game half of the command line from
// either the modern rule-guarded list or the legacy template string.
func buildGameArgs(res *mojang.Resolution, vars map[string]string) ([]string, error) {
	desc := res.Descriptor

	if desc.Arguments != nil && len(desc.Arguments.Game) > 0 {
		args, err := evalArguments(desc.Arguments.Game, res.Platform, vars, true)
		if err != nil {
			return nil, fmt.Errorf("launch: game arguments: %w", err)
		}

		return args, nil
	}

	if desc.MinecraftArguments != "" {
		return legacyGameArgs(desc.MinecraftArguments, vars), nil
	}

	return nil, nil
}

// legacyGameArgs expands the whitespace-separated legacy argument
// template.
func legacyGameArgs(template string, vars map[string]string) []string {
	var args []string

	for _, field := range strings.Fields(template) {
		resolved := expand(field, vars)
		if resolved == "--demo" {
			continue
		}

		args = append(args, resolved)
	}

	return args
}

// conditionalArgument is the rule-guarded form of a modern argument
// entry; Value is either a string or an array of strings.
type conditionalArgument struct {
	Rules []mojang.Rule   `json:"rules"`
	Value json.RawMessage `json:"value"`
}

// evalArguments expands a modern argument list: plain strings pass
// through substitution, rule-guarded entries apply only when their
// rules allow the platform. No launch features (demo, custom
// resolution) are enabled, so feature-gated entries drop out.
func evalArguments(entries []json.RawMessage, p mojang.Platform, vars map[string]string, filterDemo bool) ([]string, error) {
	var out []string

	for _, entry := range entries {
		values, err := evalArgument(entry, p)
		if err != nil {
			return nil, err
		}

		for _, v := range values {
			resolved := expand(v, vars)
			if filterDemo && resolved == "--demo" {
				continue
			}

			out = append(out, resolved)
		}
	}

	return out, nil
}

func evalArgument(entry json.RawMessage, p mojang.Platform) ([]string, error) {
	var plain string
	if err := json.Unmarshal(entry, &plain); err == nil {
		return []string{plain}, nil
	}

	var cond conditionalArgument
	if err := json.Unmarshal(entry, &cond); err != nil {
		return nil, fmt.Errorf("unrecognized argument entry %s: %w", string(entry), err)
	}

	if !mojang.Allowed(cond.Rules, p, nil) {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(cond.Value, &single); err == nil {
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(cond.Value, &many); err != nil {
		return nil, fmt.Errorf("unrecognized argument value %s: %w", string(cond.Value), err)
	}

	return many, nil
}

// substitutions builds the ${variable} table for one launch. Variables
// the game may reference but this launcher does not use (quick play,
// xuid) substitute to empty rather than leaking the raw token.
func substitutions(lc *Context, opts SpecOptions) map[string]string {
	res := lc.Resolution
	desc := res.Descriptor

	gameDir := opts.GameDir
	if gameDir == "" {
		gameDir = lc.DataDir
	}

	assetsIndexName := desc.Assets
	if assetsIndexName == "" {
		assetsIndexName = desc.AssetIndex.ID
	}

	return map[string]string{
		"auth_player_name":  lc.Session.Profile.Name,
		"auth_uuid":         lc.Session.Profile.ID,
		"auth_access_token": lc.Session.Minecraft.AccessToken,
		"auth_session":      lc.Session.Minecraft.AccessToken,
		"user_type":         "msa",

		"version_name":      res.VersionID,
		"version_type":      desc.Type,
		"game_directory":    gameDir,
		"assets_root":       filepath.Join(lc.DataDir, "assets"),
		"assets_index_name": assetsIndexName,
		"game_assets":       filepath.Join(lc.DataDir, "assets"),

		"natives_directory": nativesDir(lc.DataDir, res.VersionID),
		"classpath":         classpath(res, lc.DataDir),
		"launcher_name":     launcherName,
		"launcher_version":  opts.LauncherVersion,

		"resolution_width":  defaultResolutionWidth,
		"resolution_height": defaultResolutionHeight,

		"clientid":              "",
		"auth_xuid":             "",
		"user_properties":       "{}",
		"quickPlayPath":         "",
		"quickPlaySingleplayer": "",
		"quickPlayMultiplayer":  "",
		"quickPlayRealms":       "",
	}
}

// expand replaces every known ${variable} in s. Unknown tokens stay
// as-is so a descriptor change fails visibly instead of silently.
func expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	for key, value := range vars {
		s = strings.ReplaceAll(s, "${"+key+"}", value)
	}

	return s
}

// classpath joins the client jar and every non-native library into the
// platform's classpath string, in resolution order.
func classpath(res *mojang.Resolution, dataDir string) string {
	entries := []string{filepath.Join(dataDir, filepath.FromSlash(res.ClientJarPath()))}

	for _, lib := range res.ByKind(mojang.KindLibrary) {
		entries = append(entries, filepath.Join(dataDir, filepath.FromSlash(lib.Path)))
	}

	return strings.Join(entries, string(os.PathListSeparator))
}

package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/recognition/replay"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// theLabelFixturesAreAvailable renders every label fixture and records its
// texts in the scenario's temp directory.
func (testCtx *TestContext) theLabelFixturesAreAvailable() error {
	for _, f := range testutil.LabelFixtures() {
		paths := FixturePaths{
			Image: filepath.Join(testCtx.TempDir, f.Name+".png"),
			Texts: filepath.Join(testCtx.TempDir, f.Name+".texts.json"),
		}
		if err := imaging.Save(testutil.LabelImage(f.Texts), paths.Image); err != nil {
			return fmt.Errorf("failed to write fixture image %s: %w", f.Name, err)
		}
		if err := replay.Record(paths.Texts, f.Texts); err != nil {
			return fmt.Errorf("failed to record fixture texts %s: %w", f.Name, err)
		}
		testCtx.Fixtures[f.Name] = paths
	}
	return nil
}

// substituteCommandVariables replaces {image:NAME}, {texts:NAME} and {tmp}
// placeholders and resolves the bare CLI name to the test binary.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	for name, paths := range testCtx.Fixtures {
		command = strings.ReplaceAll(command, "{image:"+name+"}", paths.Image)
		command = strings.ReplaceAll(command, "{texts:"+name+"}", paths.Texts)
	}
	command = strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
	return command
}

func (testCtx *TestContext) binaryPath(name string) string {
	if name == "labelscan" {
		if bin := os.Getenv("LABELSCAN_BIN"); bin != "" {
			return bin
		}
	}
	return name
}

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, testCtx.binaryPath(parts[0]), parts[1:]...)
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	// Logs go to stderr; keep them apart from the scan output.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}

	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s\nStderr: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	expectedText = testCtx.substituteCommandVariables(expectedText)
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldNotContain verifies the output lacks specific text.
func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) outputJSON() (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(testCtx.LastOutput)), &data); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	return data, nil
}

// theOutputShouldBeValidJSON verifies the output is valid JSON.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.outputJSON()
	return err
}

// theJSONShouldContain verifies JSON contains a specific field.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	data, err := testCtx.outputJSON()
	if err != nil {
		return err
	}
	_, err = lookupJSONField(data, field)
	return err
}

// theJSONFieldShouldEqual compares a JSON field, formatted with %v, to want.
func (testCtx *TestContext) theJSONFieldShouldEqual(field, want string) error {
	data, err := testCtx.outputJSON()
	if err != nil {
		return err
	}
	return jsonFieldEquals(data, field, want)
}

// lookupJSONField follows a dotted path through objects and arrays; array
// elements are addressed by index ("result.columns.0.header").
func lookupJSONField(data interface{}, field string) (interface{}, error) {
	current := data
	parts := strings.Split(field, ".")
	for i, part := range parts {
		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index '%s' out of range in JSON", strings.Join(parts[:i+1], "."))
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot navigate deeper into non-object field '%s'", strings.Join(parts[:i], "."))
		}
	}
	return current, nil
}

func jsonFieldEquals(data interface{}, field, want string) error {
	got, err := lookupJSONField(data, field)
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("JSON field '%s' is %v, want %s", field, got, want)
	}
	return nil
}

// theJSONArrayShouldHaveItems checks the length of a JSON array field.
func (testCtx *TestContext) theJSONArrayShouldHaveItems(field string, n int) error {
	data, err := testCtx.outputJSON()
	if err != nil {
		return err
	}
	v, err := lookupJSONField(data, field)
	if err != nil {
		return err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return fmt.Errorf("field '%s' is not an array", field)
	}
	if len(arr) != n {
		return fmt.Errorf("field '%s' has %d items, want %d", field, len(arr), n)
	}
	return nil
}

// theErrorShouldMention verifies the error message contains specific text.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastOutput + " " + testCtx.LastStderr
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}

	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}

	return nil
}

// theDirectoryShouldContainPNGFiles counts the PNG files in dir.
func (testCtx *TestContext) theDirectoryShouldContainPNGFiles(dir string, n int) error {
	dir = testCtx.substituteCommandVariables(dir)
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return err
	}
	if len(matches) != n {
		return fmt.Errorf("directory %s has %d PNG files, want %d", dir, len(matches), n)
	}
	return nil
}

// theNumberOfPNGFilesShouldEqualTheResultBoxes compares the crops written to
// dir with the text boxes of the JSON scan output.
func (testCtx *TestContext) theNumberOfPNGFilesShouldEqualTheResultBoxes(dir string) error {
	data, err := testCtx.outputJSON()
	if err != nil {
		return err
	}
	boxes, err := lookupJSONField(data, "result.text_boxes")
	if err != nil {
		return err
	}
	arr, _ := boxes.([]interface{})
	if len(arr) == 0 {
		return errors.New("scan result has no text boxes")
	}
	return testCtx.theDirectoryShouldContainPNGFiles(dir, len(arr))
}

// theFileShouldExist checks for a file relative to the scenario directory.
func (testCtx *TestContext) theFileShouldExist(name string) error {
	name = testCtx.substituteCommandVariables(name)
	if !filepath.IsAbs(name) {
		name = filepath.Join(testCtx.TempDir, name)
	}
	if !testutil.FileExists(name) {
		return fmt.Errorf("file %s does not exist", name)
	}
	return nil
}

// aConfigFileWithContent writes a config file in the scenario directory.
func (testCtx *TestContext) aConfigFileWithContent(name string, content *godog.DocString) error {
	path := filepath.Join(testCtx.TempDir, name)
	return os.WriteFile(path, []byte(content.Content), 0o600)
}

// theEnvironmentVariableIsSet sets an environment variable for commands.
func (testCtx *TestContext) theEnvironmentVariableIsSet(name, value string) error {
	testCtx.AddEnvVar(name, value)
	return nil
}

// RegisterCommonSteps registers the command, output and file steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the label fixtures are available$`, testCtx.theLabelFixturesAreAvailable)
	sc.Step(`^a config file "([^"]*)" with content:$`, testCtx.aConfigFileWithContent)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSet)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldEqual)
	sc.Step(`^the JSON array "([^"]*)" should have (\d+) items?$`, testCtx.theJSONArrayShouldHaveItems)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)

	sc.Step(`^the directory "([^"]*)" should contain (\d+) PNG files?$`, testCtx.theDirectoryShouldContainPNGFiles)
	sc.Step(`^the directory "([^"]*)" should contain one PNG file per result box$`,
		testCtx.theNumberOfPNGFilesShouldEqualTheResultBoxes)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}

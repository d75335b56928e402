package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
	. "github.com/russross/autograder/types"
	"github.com/spf13/cobra"
)

const (
	perUserDotFile = ".autograderrc"
	urlPrefix      = "/v2"
)

var Config struct {
	Host      string `json:"host"`
	Cookie    string `json:"cookie"`
	apiReport bool
	apiDump   bool
}

func main() {
	log.SetFlags(0)

	cmdRoot := &cobra.Command{
		Use:   "autograder",
		Short: "Command-line interface to the course autograder",
	}
	cmdRoot.PersistentFlags().BoolVarP(&Config.apiReport, "api", "", false, "report all API requests")
	cmdRoot.PersistentFlags().BoolVarP(&Config.apiDump, "api-dump", "", false, "dump API request and response data")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of the autograder CLI",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("autograder " + CurrentVersion.Version)
		},
	}
	cmdRoot.AddCommand(cmdVersion)

	cmdLogin := &cobra.Command{
		Use:   "login <hostname> <netid> <secret>",
		Short: "log in to the autograder server",
		Long: "Creates a session on the server and stores the cookie locally.\n" +
			"You should normally only need to do this once per semester.",
		Run: CommandLogin,
	}
	cmdRoot.AddCommand(cmdLogin)

	cmdSubmit := &cobra.Command{
		Use:   "submit <phase> <repo url>",
		Short: "submit a repository for grading",
		Run:   CommandSubmit,
	}
	cmdSubmit.Flags().StringP("student", "s", "", "grade on behalf of another student (staff only)")
	cmdSubmit.Flags().BoolP("admin", "a", false, "run without recording a grade (staff only)")
	cmdRoot.AddCommand(cmdSubmit)

	cmdSubmissions := &cobra.Command{
		Use:   "submissions [phase]",
		Short: "list your submissions, or the latest one for a phase",
		Run:   CommandSubmissions,
	}
	cmdRoot.AddCommand(cmdSubmissions)

	cmdQueue := &cobra.Command{
		Use:   "queue",
		Short: "show the grading queue (staff only)",
		Run:   CommandQueue,
	}
	cmdRoot.AddCommand(cmdQueue)

	cmdApprove := &cobra.Command{
		Use:   "approve <netid> <phase>",
		Short: "approve a withheld score, optionally with a penalty (staff only)",
		Run:   CommandApprove,
	}
	cmdApprove.Flags().IntP("penalty", "p", 0, "penalty percentage to apply")
	cmdRoot.AddCommand(cmdApprove)

	cmdConfig := &cobra.Command{
		Use:   "config [key] [value]",
		Short: "list, read, or set runtime configuration (staff only)",
		Run:   CommandConfig,
	}
	cmdRoot.AddCommand(cmdConfig)

	cmdCourse := &cobra.Command{
		Use:   "course <course.cfg>",
		Short: "push a course configuration file to the server (staff only)",
		Long: "Reads a course .cfg file holding assignment numbers, penalties,\n" +
			"holidays, and per-phase rubrics, and pushes it to the server.",
		Run: CommandCourse,
	}
	cmdRoot.AddCommand(cmdCourse)

	cmdRoot.Execute()
}

func CommandLogin(cmd *cobra.Command, args []string) {
	if len(args) != 3 {
		log.Fatalf("Usage: %s login <hostname> <netid> <secret>", os.Args[0])
	}
	Config.Host = args[0]

	session := make(map[string]interface{})
	mustPostObject("/sessions", nil, map[string]string{"netID": args[1], "secret": args[2]}, &session, func(resp *http.Response) {
		for _, cookie := range resp.Cookies() {
			Config.Cookie = fmt.Sprintf("%s=%s", cookie.Name, cookie.Value)
		}
	})
	if Config.Cookie == "" {
		log.Fatalf("server did not return a session cookie")
	}

	checkVersion()
	mustWriteConfig()
	fmt.Printf("login successful; welcome %s\n", args[1])
}

func mustGetObject(path string, params url.Values, download interface{}) {
	doRequest(path, params, "GET", nil, download, false, nil)
}

func getObject(path string, params url.Values, download interface{}) bool {
	return doRequest(path, params, "GET", nil, download, true, nil)
}

func mustPostObject(path string, params url.Values, upload interface{}, download interface{}, onResponse func(*http.Response)) {
	doRequest(path, params, "POST", upload, download, false, onResponse)
}

func mustPutObject(path string, params url.Values, upload interface{}, download interface{}) {
	doRequest(path, params, "PUT", upload, download, false, nil)
}

func doRequest(path string, params url.Values, method string, upload interface{}, download interface{}, notfoundokay bool, onResponse func(*http.Response)) bool {
	if !strings.HasPrefix(path, "/") {
		log.Panicf("doRequest path must start with /")
	}
	url := fmt.Sprintf("https://%s%s%s", Config.Host, urlPrefix, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		log.Fatalf("error creating http request: %v\n", err)
	}

	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}

	if Config.apiReport {
		fmt.Printf("%s %s\n", method, req.URL)
	}

	req.Header.Add("Cookie", Config.Cookie)
	if download != nil {
		req.Header.Add("Accept", "application/json")
		req.Header.Add("Accept-Encoding", "gzip")
	}

	if upload != nil && (method == "POST" || method == "PUT") {
		req.Header.Add("Content-Type", "application/json")
		req.Header.Add("Content-Encoding", "gzip")
		payload := new(bytes.Buffer)
		gw := gzip.NewWriter(payload)
		uncompressed := new(bytes.Buffer)
		var jsontarget io.Writer
		if Config.apiDump {
			jsontarget = io.MultiWriter(gw, uncompressed)
		} else {
			jsontarget = gw
		}
		jw := json.NewEncoder(jsontarget)
		if err := jw.Encode(upload); err != nil {
			log.Fatalf("doRequest: JSON error encoding object to upload: %v", err)
		}
		if err := gw.Close(); err != nil {
			log.Fatalf("doRequest: gzip error encoding object to upload: %v", err)
		}
		req.Body = io.NopCloser(payload)

		if Config.apiDump {
			fmt.Printf("Request data: %s\n", uncompressed)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("error connecting to %s: %v", Config.Host, err)
	}
	defer resp.Body.Close()
	if notfoundokay && resp.StatusCode == http.StatusNotFound {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("unexpected status from %s: %s", url, resp.Status)
		dumpBody(resp)
		log.Fatalf("giving up")
	}
	if onResponse != nil {
		onResponse(resp)
	}

	if download != nil {
		body := resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(body)
			if err != nil {
				log.Fatalf("failed to decompress gzip result: %v", err)
			}
			body = gz
			defer gz.Close()
		}
		decoder := json.NewDecoder(body)
		if err := decoder.Decode(download); err != nil {
			log.Fatalf("failed to parse result object from server: %v", err)
		}

		if Config.apiDump {
			raw, err := json.MarshalIndent(download, "", "    ")
			if err != nil {
				log.Fatalf("doRequest: JSON error encoding downloaded object: %v", err)
			}
			fmt.Printf("Response data: %s\n", raw)
		}

		return true
	}
	return false
}

func mustLoadConfig(cmd *cobra.Command) {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	configFile := filepath.Join(home, perUserDotFile)

	if raw, err := os.ReadFile(configFile); err != nil {
		log.Fatalf("Unable to load config file; try running '%s login'\n", os.Args[0])
	} else if err := json.Unmarshal(raw, &Config); err != nil {
		log.Printf("failed to parse %s: %v", configFile, err)
		log.Fatalf("you may wish to try deleting the file and running '%s login' again\n", os.Args[0])
	}
	if Config.apiDump {
		Config.apiReport = true
	}

	checkVersion()
}

func mustWriteConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	configFile := filepath.Join(home, perUserDotFile)

	raw, err := json.MarshalIndent(&Config, "", "    ")
	if err != nil {
		log.Fatalf("JSON error encoding cookie file: %v", err)
	}
	raw = append(raw, '\n')

	if err = os.WriteFile(configFile, raw, 0644); err != nil {
		log.Fatalf("error writing %s: %v", configFile, err)
	}
}

func checkVersion() {
	server := new(Version)
	mustGetObject("/version", nil, server)
	current := semver.MustParse(CurrentVersion.Version)
	required := semver.MustParse(server.ToolVersionRequired)
	if required.GT(current) {
		log.Printf("this is autograder version %s, but the server requires %s or higher", CurrentVersion.Version, server.ToolVersionRequired)
		log.Fatalf("  you must upgrade to continue")
	}
	recommended := semver.MustParse(server.ToolVersionRecommended)
	if recommended.GT(current) {
		log.Printf("this is autograder version %s, but the server recommends %s or higher", CurrentVersion.Version, server.ToolVersionRecommended)
		log.Printf("  please upgrade as soon as possible")
	}
}

func dumpBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			log.Fatalf("failed to decompress gzip result: %v", err)
		}
		defer gz.Close()
		io.Copy(os.Stderr, gz)
	} else {
		io.Copy(os.Stderr, resp.Body)
	}
}

func mustMarshalIndent(elt interface{}) []byte {
	raw, err := json.MarshalIndent(elt, "", "    ")
	if err != nil {
		log.Fatalf("JSON error encoding object: %v", err)
	}
	return raw
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

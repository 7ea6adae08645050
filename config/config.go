package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DefaultConfPath is read when no file is given and it exists
const DefaultConfPath = "socketserver.conf"

// Engine names
const (
	EngineGoroutine = "goroutine"
	EngineGnet      = "gnet"
)

// Properties holds global config properties
var Properties *ServerProperties

// ServerProperties defines global config properties
type ServerProperties struct {
	Bind   string `cfg:"bind"`
	Port   int    `cfg:"port"`
	Engine string `cfg:"engine"`

	PollInterval    time.Duration `cfg:"poll-interval"`
	ReadBuffer      int           `cfg:"read-buffer"`
	WriteTimeout    time.Duration `cfg:"write-timeout"`
	KeepAlive       time.Duration `cfg:"keepalive"`
	ShutdownTimeout time.Duration `cfg:"shutdown-timeout"`
	ReusePort       bool          `cfg:"reuse-port"`
	Multicore       bool          `cfg:"multicore"`

	LogDir   string `cfg:"log-dir"`
	LogLevel string `cfg:"log-level"`

	// ReplyHex is the payload the demo server answers every receive with
	ReplyHex string `cfg:"reply-hex"`
	// AllowFrom restricts the demo server to these peer IPs, empty allows all
	AllowFrom []string `cfg:"allow-from"`
}

// Default returns the built-in properties
func Default() *ServerProperties {
	return &ServerProperties{
		Bind:            "0.0.0.0",
		Port:            6017,
		Engine:          EngineGoroutine,
		PollInterval:    100 * time.Millisecond,
		ReadBuffer:      4096,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		ReplyHex:        "0000000000100006313338303335313030303100013D",
	}
}

func init() {
	// default config
	Properties = Default()
}

// Address returns bind:port
func (p *ServerProperties) Address() string {
	return fmt.Sprintf("%s:%d", p.Bind, p.Port)
}

func parse(src io.Reader) (*ServerProperties, error) {
	config := Default()

	// read config file
	rawMap := make(map[string]string)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		pivot := strings.IndexAny(line, " ")
		if pivot > 0 && pivot < len(line)-1 { // separator found
			key := line[0:pivot]
			value := strings.Trim(line[pivot+1:], " ")
			rawMap[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// parse format
	t := reflect.TypeOf(config)
	v := reflect.ValueOf(config)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok {
			key = field.Name
		}
		value, ok := rawMap[strings.ToLower(key)]
		if !ok {
			continue
		}
		// fill config
		switch {
		case field.Type == reflect.TypeOf(time.Duration(0)):
			d, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", key, err)
			}
			fieldVal.SetInt(int64(d))
		case field.Type.Kind() == reflect.String:
			fieldVal.SetString(value)
		case field.Type.Kind() == reflect.Int:
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", key, err)
			}
			fieldVal.SetInt(intValue)
		case field.Type.Kind() == reflect.Bool:
			fieldVal.SetBool(toBool(value))
		case field.Type.Kind() == reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				slice := strings.Split(value, ",")
				fieldVal.Set(reflect.ValueOf(slice))
			}
		}
	}
	if config.Engine != EngineGoroutine && config.Engine != EngineGnet {
		return nil, fmt.Errorf("config engine: unknown engine %q", config.Engine)
	}
	return config, nil
}

// Setup read config file and store properties into Properties.
// An empty filename falls back to DefaultConfPath when it exists, else to defaults.
func Setup(configFilename string) error {
	if configFilename == "" {
		if !defaultConfigFileExists() {
			Properties = Default()
			return nil
		}
		configFilename = DefaultConfPath
	}
	file, err := os.Open(configFilename)
	if err != nil {
		return err
	}
	defer file.Close()
	p, err := parse(file)
	if err != nil {
		return fmt.Errorf("parse %s: %w", configFilename, err)
	}
	Properties = p
	return nil
}

func defaultConfigFileExists() bool {
	info, err := os.Stat(DefaultConfPath)
	return err == nil && !info.IsDir()
}

func toBool(s string) bool {
	ls := strings.ToLower(s)
	switch ls {
	case "true", "yes", "t", "y":
		return true
	default:
		return false
	}
}

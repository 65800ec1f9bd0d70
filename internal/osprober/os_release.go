package osprober

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

var osReleaseLine = regexp.MustCompile(`^(NAME|ID|VERSION_ID|VERSION_CODENAME|PRETTY_NAME)=(\S+.*)`)

func parseFile(fname string) (*OSReleaseInfo, error) {
	fd, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	info := OSReleaseInfo{
		// Defaults of os-release(5)
		Distrib:    "linux",
		Name:       "Linux",
		PrettyName: "Linux",
	}

	scanner := bufio.NewScanner(fd)

	for scanner.Scan() {
		fields := osReleaseLine.FindStringSubmatch(scanner.Text())
		if fields == nil {
			continue
		}

		key, value := fields[1], strings.Trim(fields[2], `"'`)

		switch key {
		case "NAME":
			info.Name = value
		case "PRETTY_NAME":
			info.PrettyName = value
		case "ID":
			info.Distrib = strings.ToLower(value)
		case "VERSION_ID":
			info.Version = strings.ToLower(value)
		case "VERSION_CODENAME":
			info.CodeName = strings.ToLower(value)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &info, nil
}

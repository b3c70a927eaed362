// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type pkgStats struct {
	Prod int `json:"prod"`
	Test int `json:"test"`
}

// Stats prints Go lines of code per package as JSON, plus totals.
func Stats() error {
	perPkg := map[string]*pkgStats{}
	err := filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			switch info.Name() {
			case "vendor", ".git", binaryDir, "magefiles", "_examples", "testdata":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		count, countErr := countLines(path)
		if countErr != nil {
			return nil
		}
		dir := filepath.Dir(path)
		s, ok := perPkg[dir]
		if !ok {
			s = &pkgStats{}
			perPkg[dir] = s
		}
		if strings.HasSuffix(path, "_test.go") {
			s.Test += count
		} else {
			s.Prod += count
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(perPkg))
	for d := range perPkg {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	var total pkgStats
	for _, d := range dirs {
		line, err := json.Marshal(map[string]any{"pkg": d, "prod": perPkg[d].Prod, "test": perPkg[d].Test})
		if err != nil {
			return err
		}
		fmt.Println(string(line))
		total.Prod += perPkg[d].Prod
		total.Test += perPkg[d].Test
	}
	line, err := json.Marshal(map[string]any{"pkg": "total", "prod": total.Prod, "test": total.Test})
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	seelog "github.com/cihub/seelog"

	"github.com/pigtrack/pigtrack/pkg/util/log"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

// SetupLogger sets up a logger with the pigtrack console format, an optional
// rolling log file, and installs it as the process logger.
func SetupLogger(loggerName LoggerName, logLevel, logFile string) error {
	configTemplate := `<seelog minlevel="%[1]s">
    <outputs formatid="common">
        <console />`
	if logFile != "" {
		configTemplate += `<rollingfile type="size" filename="%[4]s" maxsize="%[5]d" maxrolls="1" />`
	}
	configTemplate += `</outputs>
    <formats>
        <format id="common" format="%%Date(%[2]s) | %[3]s | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`
	config := fmt.Sprintf(configTemplate, strings.ToLower(logLevel), logDateFormat, loggerName, logFile, logFileMaxSize)

	logger, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		return err
	}
	log.SetupLogger(logger, logLevel)
	return nil
}

package hailuo

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Fixed device/environment fields sent on every signed request. The
// upstream validates these against the registered device, so they must
// stay byte-identical between registration and later calls.
const (
	devicePlatform  = "web"
	appID           = "3001"
	versionCode     = "22201"
	osName          = "Windows"
	browserName     = "chrome"
	cpuCoreNum      = "16"
	browserLanguage = "en-US"
	browserPlatform = "Win32"
	screenWidth     = "1920"
	screenHeight    = "1080"
)

// signSalt terminates the checksum input. Upstream contract constant.
const signSalt = "ooui"

// canonicalQuery builds the device query string in the fixed key order the
// upstream signs against. deviceID and userUUID may be empty during device
// registration.
func canonicalQuery(deviceID, userUUID string, now time.Time) string {
	pairs := [][2]string{
		{"device_platform", devicePlatform},
		{"app_id", appID},
		{"version_code", versionCode},
		{"uuid", userUUID},
		{"device_id", deviceID},
		{"os_name", osName},
		{"browser_name", browserName},
		{"cpu_core_num", cpuCoreNum},
		{"browser_language", browserLanguage},
		{"browser_platform", browserPlatform},
		{"screen_width", screenWidth},
		{"screen_height", screenHeight},
		{"unix", strconv.FormatInt(now.UnixMilli(), 10)},
	}

	q := make([]byte, 0, 256)
	for i, p := range pairs {
		if i > 0 {
			q = append(q, '&')
		}
		q = append(q, p[0]...)
		q = append(q, '=')
		q = append(q, url.QueryEscape(p[1])...)
	}
	return string(q)
}

// signRequest computes the content checksum the upstream expects in the
// "yy" header: md5 over the encoded path+query, the canonicalized body and
// an md5 of the millisecond timestamp, terminated by the salt.
func signRequest(pathWithQuery, body string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return md5Hex(url.QueryEscape(pathWithQuery) + "_" + body + md5Hex(ts) + signSalt)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

package simctl

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// listOutput is the JSON printed by `simctl list -j`.
type listOutput struct {
	DeviceTypes []deviceTypeEntry        `json:"devicetypes"`
	Runtimes    []runtimeEntry           `json:"runtimes"`
	Devices     map[string][]deviceEntry `json:"devices"`
}

type deviceTypeEntry struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

type runtimeEntry struct {
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	Version     string `json:"version"`
	IsAvailable bool   `json:"isAvailable"`
}

type deviceEntry struct {
	UDID                 string `json:"udid"`
	Name                 string `json:"name"`
	State                string `json:"state"`
	IsAvailable          bool   `json:"isAvailable"`
	DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
	DataPath             string `json:"dataPath"`
}

// listing is a parsed `simctl list -j` with identifiers resolved to names.
type listing struct {
	deviceTypes []deviceTypeEntry
	runtimes    []runtimeEntry
	devices     []record
}

// record is one available device with its runtime and device type names
// resolved.
type record struct {
	udid       string
	name       string
	state      string
	deviceType string
	runtime    string
	dataPath   string
}

func parseListing(data []byte) (*listing, error) {
	var out listOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse simctl list output: %w", err)
	}

	typeNames := make(map[string]string, len(out.DeviceTypes))
	for _, dt := range out.DeviceTypes {
		typeNames[dt.Identifier] = dt.Name
	}
	runtimeNames := make(map[string]string, len(out.Runtimes))
	for _, rt := range out.Runtimes {
		runtimeNames[rt.Identifier] = rt.Name
	}

	// Map iteration order is random; sort the runtime keys so Devices
	// enumerates in a stable order.
	keys := make([]string, 0, len(out.Devices))
	for k := range out.Devices {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	l := &listing{deviceTypes: out.DeviceTypes, runtimes: out.Runtimes}
	for _, key := range keys {
		runtime, ok := runtimeNames[key]
		if !ok {
			runtime = runtimeNameFromIdentifier(key)
		}
		for _, d := range out.Devices[key] {
			if !d.IsAvailable {
				continue
			}
			deviceType, ok := typeNames[d.DeviceTypeIdentifier]
			if !ok {
				deviceType = d.DeviceTypeIdentifier
			}
			l.devices = append(l.devices, record{
				udid:       d.UDID,
				name:       d.Name,
				state:      d.State,
				deviceType: deviceType,
				runtime:    runtime,
				dataPath:   d.DataPath,
			})
		}
	}
	return l, nil
}

func (l *listing) find(udid string) (record, bool) {
	i := slices.IndexFunc(l.devices, func(r record) bool { return r.udid == udid })
	if i < 0 {
		return record{}, false
	}
	return l.devices[i], true
}

// deviceTypeIdentifier resolves a device type name, or accepts an
// identifier as is.
func (l *listing) deviceTypeIdentifier(name string) (string, bool) {
	for _, dt := range l.deviceTypes {
		if dt.Name == name || dt.Identifier == name {
			return dt.Identifier, true
		}
	}
	return "", false
}

// runtimeIdentifier resolves an available runtime name, or accepts an
// identifier as is.
func (l *listing) runtimeIdentifier(name string) (string, bool) {
	for _, rt := range l.runtimes {
		if !rt.IsAvailable {
			continue
		}
		if rt.Name == name || rt.Identifier == name {
			return rt.Identifier, true
		}
	}
	return "", false
}

// runtimeNameFromIdentifier turns
// "com.apple.CoreSimulator.SimRuntime.iOS-17-2" into "iOS 17.2".
func runtimeNameFromIdentifier(id string) string {
	last := id[strings.LastIndex(id, ".")+1:]
	platform, version, ok := strings.Cut(last, "-")
	if !ok {
		return last
	}
	return platform + " " + strings.ReplaceAll(version, "-", ".")
}

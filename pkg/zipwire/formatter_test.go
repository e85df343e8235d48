// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipwire

import "testing"

func TestParseSnapshot(t *testing.T) {
	line := "{M120,-40,1,3,hw:a1b2,imu:1,ram:412,min:388,batt:7350,b:0,cap:255}"

	snap, err := ParseSnapshot(line)
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	if snap.Owner != 'M' {
		t.Errorf("Owner = %c, want M", snap.Owner)
	}
	if snap.LeftPWM != 120 || snap.RightPWM != -40 {
		t.Errorf("PWM = %d/%d, want 120/-40", snap.LeftPWM, snap.RightPWM)
	}
	if snap.MotionState != 1 {
		t.Errorf("MotionState = %d, want 1", snap.MotionState)
	}
	if snap.ResetCount != 3 {
		t.Errorf("ResetCount = %d, want 3", snap.ResetCount)
	}
	if snap.Fields["hw"] != "a1b2" {
		t.Errorf("Fields[hw] = %q, want a1b2", snap.Fields["hw"])
	}
	if snap.Fields["batt"] != "7350" {
		t.Errorf("Fields[batt] = %q, want 7350", snap.Fields["batt"])
	}
}

func TestParseSnapshot_Malformed(t *testing.T) {
	for _, line := range []string{"", "R", "{}", "{M0,0}", "{Mx,0,0,0}"} {
		if _, err := ParseSnapshot(line); err == nil {
			t.Errorf("ParseSnapshot(%q) accepted malformed input", line)
		}
	}
}

func TestParseStats(t *testing.T) {
	stats, err := ParseStats("{stats:rx=4,jd=0,pe=2,tx=1,ms=530}")
	if err != nil {
		t.Fatalf("ParseStats failed: %v", err)
	}
	want := map[string]int64{"rx": 4, "jd": 0, "pe": 2, "tx": 1, "ms": 530}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%s] = %d, want %d", k, stats[k], v)
		}
	}
}

func TestParseStats_Malformed(t *testing.T) {
	for _, line := range []string{"{ok}", "{stats:rx}", "{stats:rx=abc}"} {
		if _, err := ParseStats(line); err == nil {
			t.Errorf("ParseStats(%q) accepted malformed input", line)
		}
	}
}

package display

import "testing"

func mode(w, h uint16, hz uint32, flags, typ uint32) drmModeModeInfo {
	return drmModeModeInfo{Hdisplay: w, Vdisplay: h, Vrefresh: hz, Flags: flags, Type: typ}
}

func TestChooseModeExactMatch(t *testing.T) {
	modes := []drmModeModeInfo{
		mode(1920, 1080, 30, 0, 0),
		mode(1920, 1080, 60, 0, 0),
		mode(1280, 720, 60, 0, modeTypePreferred),
	}
	got, ok := chooseMode(modes, 1920, 1080, 60)
	if !ok {
		t.Fatal("expected a mode")
	}
	if got.Hdisplay != 1920 || got.Vdisplay != 1080 || got.Vrefresh != 60 {
		t.Fatalf("got %+v", got)
	}
}

func TestChooseModeExactSizeAnyHz(t *testing.T) {
	modes := []drmModeModeInfo{
		mode(1920, 1080, 30, 0, 0),
		mode(1280, 720, 60, 0, modeTypePreferred),
	}
	got, ok := chooseMode(modes, 1920, 1080, 60)
	if !ok || got.Vrefresh != 30 {
		t.Fatalf("expected fallback to 1920x1080@30, got %+v ok=%v", got, ok)
	}
}

func TestChooseModeLetterbox(t *testing.T) {
	modes := []drmModeModeInfo{
		mode(1920, 1200, 60, 0, 0),
		mode(1280, 720, 60, 0, modeTypePreferred),
	}
	got, ok := chooseMode(modes, 1920, 1080, 60)
	if !ok || got.Hdisplay != 1920 || got.Vdisplay != 1200 {
		t.Fatalf("expected letterboxed 1920x1200, got %+v ok=%v", got, ok)
	}
}

func TestChooseModePreferredFallback(t *testing.T) {
	modes := []drmModeModeInfo{
		mode(640, 480, 60, 0, 0),
		mode(1280, 720, 60, 0, modeTypePreferred),
	}
	got, ok := chooseMode(modes, 1920, 1080, 60)
	if !ok || got.Type&modeTypePreferred == 0 {
		t.Fatalf("expected preferred mode fallback, got %+v ok=%v", got, ok)
	}
}

func TestChooseModeDiscardsInterlaced(t *testing.T) {
	modes := []drmModeModeInfo{
		mode(1920, 1080, 60, modeFlagInterlace, 0),
		mode(1280, 720, 60, 0, 0),
	}
	got, ok := chooseMode(modes, 1920, 1080, 60)
	if !ok || got.Hdisplay != 1280 {
		t.Fatalf("expected interlaced mode discarded, got %+v ok=%v", got, ok)
	}
}

func TestChooseModeNoModes(t *testing.T) {
	_, ok := chooseMode(nil, 1920, 1080, 60)
	if ok {
		t.Fatal("expected no usable mode")
	}
}

func TestCaptionReasons(t *testing.T) {
	cases := []struct {
		reason StubReason
		want   string
	}{
		{StubReasonBadResolution, "UNSUPPORTED RESOLUTION"},
		{StubReasonBadFormat, "UNSUPPORTED CAPTURE FORMAT"},
		{StubReasonNoSignal, "NO SIGNAL"},
		{StubReasonBusy, "ONLINE IS ACTIVE"},
	}
	for _, c := range cases {
		got := caption(c.reason, DeviceInfo{Width: 1920, Height: 1080, Hz: 60})
		if len(got) == 0 {
			t.Fatalf("empty caption for reason %v", c.reason)
		}
		if !contains(got, c.want) {
			t.Errorf("caption %q does not contain %q", got, c.want)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestStateString(t *testing.T) {
	if Closed.String() != "Closed" || OpenForDMA.String() != "OpenForDMA" || OpenForStub.String() != "OpenForStub" {
		t.Fatal("unexpected State.String()")
	}
}

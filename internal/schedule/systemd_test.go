package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderUnits(t *testing.T) {
	entry := renewEntry("svc.example.com")
	calendar, err := cronSpecToOnCalendar(entry.Spec)
	require.NoError(t, err)

	service, err := renderUnit(serviceTemplate, unitData{Entry: entry, Calendar: calendar})
	require.NoError(t, err)
	assert.Contains(t, service, "Type=oneshot")
	// The command must be a single quoted sh -c argument; systemd
	// word-splits ExecStart, so an unquoted command would run as bare
	// "certbot" with the rest as positional parameters.
	assert.Contains(t, service, "ExecStart=/bin/sh -c '"+entry.Command+"'\n")
	assert.Contains(t, service, "spec=0 3 * * *")

	timer, err := renderUnit(timerTemplate, unitData{Entry: entry, Calendar: calendar})
	require.NoError(t, err)
	assert.Contains(t, timer, "OnCalendar=*-*-* 3:0:00")
	assert.Contains(t, timer, "Persistent=true")
	assert.Contains(t, timer, "WantedBy=timers.target")
}

func TestParseUnitField_RoundTrip(t *testing.T) {
	entry := renewEntry("svc.example.com")
	service, err := renderUnit(serviceTemplate, unitData{Entry: entry, Calendar: "*-*-* 3:0:00"})
	require.NoError(t, err)

	assert.Equal(t, entry.Spec, parseUnitField(service, "; spec="))
	assert.Equal(t, entry.Command, parseExecCommand(service))
}

func TestCronSpecToOnCalendar(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"0 3 * * *", "*-*-* 3:0:00"},
		{"30 2 * * 0", "Sun *-*-* 2:30:00"},
		{"*/15 * * * *", "*-*-* *:0/15:00"},
		{"0 */6 * * *", "*-*-* 0/6:0:00"},
	}
	for _, tt := range tests {
		got, err := cronSpecToOnCalendar(tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, got, tt.spec)
	}
}

func TestCronSpecToOnCalendar_Invalid(t *testing.T) {
	_, err := cronSpecToOnCalendar("0 3 * *")
	assert.Error(t, err)
}

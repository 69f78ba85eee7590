/*
Copyright © 2025 the IBF river flood pipeline authors.
This file is part of the IBF river flood pipeline.

The IBF river flood pipeline is free software: you can redistribute it
and/or modify it under the terms of the GNU General Public License as
published by the Free Software Foundation, either version 3 of the License,
or (at your option) any later version.

The IBF river flood pipeline is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with the IBF river flood pipeline.  If not, see
<http://www.gnu.org/licenses/>.
*/

package floodpipeline

import (
	"reflect"
	"testing"
	"time"
)

func TestAlertClassRoundTrip(t *testing.T) {
	for _, class := range []AlertClass{AlertNone, AlertMin, AlertMed, AlertMax} {
		got, err := ParseAlertClass(class.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != class {
			t.Errorf("ParseAlertClass(%q) = %v, want %v", class.String(), got, class)
		}
	}
	if _, err := ParseAlertClass("severe"); err == nil {
		t.Error("ParseAlertClass(severe): expected an error")
	}
}

func TestAlertClassOrder(t *testing.T) {
	if !(AlertNone < AlertMin && AlertMin < AlertMed && AlertMed < AlertMax) {
		t.Error("alert classes are not totally ordered no < min < med < max")
	}
}

func TestEnsembleMean(t *testing.T) {
	if got := EnsembleMean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("mean = %g, want 2.5", got)
	}
	if got := EnsembleMean(nil); got != 0 {
		t.Errorf("mean of empty ensemble = %g, want 0", got)
	}
}

func TestDatasetUpsertReplaces(t *testing.T) {
	d := NewDischargeAdminDataset("UGA", time.Now(), []int{1})
	d.Upsert(&DischargeAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 1, Mean: 1})
	d.Upsert(&DischargeAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 1, Mean: 2})
	if len(d.Units()) != 1 {
		t.Fatalf("units = %d, want 1", len(d.Units()))
	}
	if got := d.Get("P1", 1).Mean; got != 2 {
		t.Errorf("mean = %g, want 2 (upsert should replace)", got)
	}
}

func TestDatasetOrdering(t *testing.T) {
	d := NewForecastAdminDataset("UGA", time.Now(), []int{1})
	for _, u := range []*ForecastAdmin{
		{AdmLevel: 1, Pcode: "P2", LeadTime: 2},
		{AdmLevel: 1, Pcode: "P1", LeadTime: 3},
		{AdmLevel: 1, Pcode: "P2", LeadTime: 1},
		{AdmLevel: 1, Pcode: "P1", LeadTime: 1},
	} {
		d.Upsert(u)
	}
	var got [][2]interface{}
	for _, u := range d.Units() {
		got = append(got, [2]interface{}{u.Pcode, u.LeadTime})
	}
	want := [][2]interface{}{{"P1", 1}, {"P1", 3}, {"P2", 1}, {"P2", 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unit order = %v, want %v", got, want)
	}
}

func TestTriggeredLeadTimes(t *testing.T) {
	d := NewForecastAdminDataset("UGA", time.Now(), []int{1})
	d.Upsert(&ForecastAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 5, Triggered: true})
	d.Upsert(&ForecastAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 2, Triggered: true})
	d.Upsert(&ForecastAdmin{AdmLevel: 1, Pcode: "P2", LeadTime: 2, Triggered: true})
	d.Upsert(&ForecastAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 3})
	if got, want := d.TriggeredLeadTimes(), []int{2, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("triggered lead times = %v, want %v", got, want)
	}
	if !d.AnyTriggered() {
		t.Error("AnyTriggered = false, want true")
	}
}

func TestDatasetPcodes(t *testing.T) {
	d := NewForecastAdminDataset("UGA", time.Now(), []int{1, 2})
	d.Upsert(&ForecastAdmin{AdmLevel: 1, Pcode: "P1", LeadTime: 1})
	d.Upsert(&ForecastAdmin{AdmLevel: 2, Pcode: "P11", LeadTime: 1})
	d.Upsert(&ForecastAdmin{AdmLevel: 2, Pcode: "P12", LeadTime: 1})
	if got, want := d.Pcodes(2), []string{"P11", "P12"}; !reflect.DeepEqual(got, want) {
		t.Errorf("level 2 pcodes = %v, want %v", got, want)
	}
	if got, want := d.Pcodes(1), []string{"P1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("level 1 pcodes = %v, want %v", got, want)
	}
}

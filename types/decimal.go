// Copyright 2025 The Flint Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"github.com/apache/arrow/go/v11/arrow/decimal128"
	"github.com/pkg/errors"
)

const (
	DefaultDecimalPrecision = 38
	DefaultDecimalScale     = 6
)

type Decimal struct {
	Num       decimal128.Num
	Precision int
	Scale     int
}

func NewDecimalFromInt64(val int64, precision int, scale int) Decimal {
	decNum := decimal128.FromI64(val)
	if scale > 0 {
		decNum = decNum.IncreaseScaleBy(int32(scale))
	} else if scale < 0 {
		decNum = decNum.ReduceScaleBy(-int32(scale), true)
	}
	return Decimal{Num: decNum, Precision: precision, Scale: scale}
}

func NewDecimalFromFloat64(val float64, precision int, scale int) (Decimal, error) {
	decNum, err := decimal128.FromFloat64(val, int32(precision), int32(scale))
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Num: decNum, Precision: precision, Scale: scale}, nil
}

func NewDecimalFromString(val string, precision int, scale int) (Decimal, error) {
	decNum, err := decimal128.FromString(val, int32(precision), int32(scale))
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Num: decNum, Precision: precision, Scale: scale}, nil
}

func (d *Decimal) ToFloat64() float64 {
	return d.Num.ToFloat64(int32(d.Scale))
}

func (d *Decimal) String() string {
	return d.Num.ToString(int32(d.Scale))
}

func (d *Decimal) GreaterThan(d2 *Decimal) bool {
	if d.Scale == d2.Scale {
		return d.Num.Greater(d2.Num)
	}
	if d.Scale > d2.Scale {
		adjusted := d2.Num.IncreaseScaleBy(int32(d.Scale - d2.Scale))
		return d.Num.Greater(adjusted)
	}
	adjusted := d.Num.IncreaseScaleBy(int32(d2.Scale - d.Scale))
	return adjusted.Greater(d2.Num)
}

func (d *Decimal) LessThan(d2 *Decimal) bool {
	if d.Scale == d2.Scale {
		return d.Num.Less(d2.Num)
	}
	if d.Scale > d2.Scale {
		adjusted := d2.Num.IncreaseScaleBy(int32(d.Scale - d2.Scale))
		return d.Num.Less(adjusted)
	}
	adjusted := d.Num.IncreaseScaleBy(int32(d2.Scale - d.Scale))
	return adjusted.Less(d2.Num)
}

func (d *Decimal) Equals(d2 *Decimal) bool {
	if d.Scale == d2.Scale {
		return d.Num == d2.Num
	}
	if d.Scale > d2.Scale {
		return d.Num == d2.Num.IncreaseScaleBy(int32(d.Scale-d2.Scale))
	}
	return d.Num.IncreaseScaleBy(int32(d2.Scale-d.Scale)) == d2.Num
}

func (d *Decimal) Add(d2 *Decimal) (Decimal, error) {
	prec, scale := addResultPrecScale(d.Precision, d.Scale, d2.Precision, d2.Scale)
	var n decimal128.Num
	if d.Scale == d2.Scale {
		n = d.Num.Add(d2.Num)
	} else if d2.Scale > d.Scale {
		n = d2.Num.Add(d.Num.IncreaseScaleBy(int32(d2.Scale - d.Scale)))
	} else {
		n = d.Num.Add(d2.Num.IncreaseScaleBy(int32(d.Scale - d2.Scale)))
	}
	ret := Decimal{Num: n, Precision: prec, Scale: scale}
	if err := checkResultFits(ret.Num, prec); err != nil {
		return Decimal{}, err
	}
	return ret, nil
}

func addResultPrecScale(prec1 int, scale1 int, prec2 int, scale2 int) (int, int) {
	maxPrec := prec1
	if prec2 > maxPrec {
		maxPrec = prec2
	}
	maxScale := scale1
	if scale2 > maxScale {
		maxScale = scale2
	}
	return maxPrec, maxScale
}

func checkResultFits(num decimal128.Num, prec int) error {
	if !num.FitsInPrecision(int32(prec)) {
		return errors.Errorf("decimal result does not fit in precision %d", prec)
	}
	return nil
}

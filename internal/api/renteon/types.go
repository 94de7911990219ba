package renteon

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// DateTimeLayout 远端接口使用的本地时间格式（无时区）
const DateTimeLayout = "2006-01-02T15:04:05"

// FormatTime 按远端格式输出时间
func FormatTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// FlexString 兼容字符串、数字和 null 的字段
type FlexString string

// UnmarshalJSON 实现 json.Unmarshaler
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(string(data))
	return nil
}

// CategoryGroup 分类所属分组（例如保险组）
type CategoryGroup struct {
	TypeName string `json:"TypeName"`
	Name     string `json:"Name"`
}

// CarModel 远端车型
type CarModel struct {
	ID          int64  `json:"Id"`
	Name        string `json:"Name"`
	CarMakeName string `json:"CarMakeName"`
	Year        int    `json:"Year"`
}

// CarCategory 远端车辆分类
type CarCategory struct {
	ID                  int64           `json:"Id"`
	Name                string          `json:"Name"`
	SIPP                string          `json:"SIPP"`
	Groups              []CategoryGroup `json:"Groups"`
	CarModels           []CarModel      `json:"CarModels"`
	CarTransmissionType FlexString      `json:"CarTransmissionType"`
	PassengerCapacity   int             `json:"PassengerCapacity"`
	NumberOfDoors       int             `json:"NumberOfDoors"`
}

// InsuranceGroupName 返回保险组名称，没有则返回空串
func (c *CarCategory) InsuranceGroupName() string {
	for _, g := range c.Groups {
		if strings.Contains(strings.ToLower(g.TypeName), "insurance") {
			return g.Name
		}
	}
	return ""
}

// AvailabilityRequest /bookings/availability 请求体
type AvailabilityRequest struct {
	DateOut            string `json:"DateOut"`
	DateIn             string `json:"DateIn"`
	OfficeOutID        int64  `json:"OfficeOutId"`
	OfficeInID         int64  `json:"OfficeInId"`
	BookAsCommissioner bool   `json:"BookAsCommissioner"`
	PricelistID        int64  `json:"PricelistId"`
	Currency           string `json:"Currency"`
}

// CalculateRequest /bookings/calculate 请求体
type CalculateRequest struct {
	AvailabilityRequest
	CarCategoryID int64 `json:"CarCategoryId"`
}

// AvailableCategory 可用性结果中的一项
type AvailableCategory struct {
	CategoryID int64   `json:"category_id"`
	Amount     float64 `json:"amount"`
	Deposit    float64 `json:"deposit"`
}

// ServicePrice 服务价格
type ServicePrice struct {
	Amount           float64 `json:"Amount"`
	AmountTotal      float64 `json:"AmountTotal"`
	Currency         string  `json:"Currency"`
	IsOneTimePayment bool    `json:"IsOneTimePayment"`
}

// Service 计价结果中的服务项
type Service struct {
	Name                   string       `json:"Name"`
	ServiceTypeName        string       `json:"ServiceTypeName"`
	ServicePrice           ServicePrice `json:"ServicePrice"`
	IsMandatory            bool         `json:"IsMandatory"`
	InsuranceDepositAmount float64      `json:"InsuranceDepositAmount"`
}

// Calculation /bookings/calculate 响应
type Calculation struct {
	Total    float64   `json:"Total"`
	Services []Service `json:"Services"`
}

// DepositAmount 返回服务项中最大的保险押金
func (c *Calculation) DepositAmount() float64 {
	var deposit float64
	for _, s := range c.Services {
		if s.InsuranceDepositAmount > deposit {
			deposit = s.InsuranceDepositAmount
		}
	}
	return deposit
}

// BookingRequest POST /bookings 请求体
type BookingRequest struct {
	CalculateRequest
	ClientName        string `json:"ClientName,omitempty"`
	ClientEmail       string `json:"ClientEmail,omitempty"`
	ExternalReference string `json:"ExternalReference"`
	Note              string `json:"Note,omitempty"`
}

// BookingResult POST /bookings 响应
type BookingResult struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

// Office 门店
type Office struct {
	ID   int64  `json:"Id"`
	Name string `json:"Name"`
	Code string `json:"Code"`
	Town string `json:"Town"`
}

// Equipment 附加设备
type Equipment struct {
	ID   int64  `json:"Id"`
	Name string `json:"Name"`
	Code string `json:"Code"`
}

// AdditionalService 附加服务
type AdditionalService struct {
	ID              int64  `json:"Id"`
	Name            string `json:"Name"`
	ServiceTypeName string `json:"ServiceTypeName"`
}

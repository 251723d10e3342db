package graphql

// Digital-twin operations.  The query bodies mirror the vendor mobile
// app's; each device-type variant exposes a different field set that the
// mapper flattens into the normalized attribute vocabulary.

const QueryGetLocation = `query getLocation($locationHiloId: String!) {
  getLocation(id: $locationHiloId) {
    hiloId
    lastUpdate
    lastUpdateVersion
    devices {
      deviceType
      hiloId
      physicalAddress
      connectionStatus
      ... on Gateway {
        controllerSoftwareVersion
        lastConnectionTime
        willBeConnectedToSmartMeter
        zigBeeChannel
        zigBeePairingModeEnhanced
        smartMeterZigBeeChannel
        smartMeterPairingStatus
      }
      ... on BasicSmartMeter {
        zigBeeChannel
        power { value kind }
      }
      ... on BasicThermostat {
        ambientHumidity
        gDState
        version
        zigbeeVersion
        heatDemand
        mode
        allowedModes
        power { value kind }
        ambientTemperature { value kind }
        ambientTempSetpoint { value kind }
        maxAmbientTempSetpoint { value kind }
        minAmbientTempSetpoint { value kind }
      }
      ... on LowVoltageThermostat {
        ambientHumidity
        gDState
        version
        zigbeeVersion
        fanMode
        fanSpeed
        mode
        currentState
        allowedModes
        fanAllowedModes
        power { value kind }
        coolTempSetpoint { value }
        ambientTemperature { value kind }
        ambientTempSetpoint { value kind }
        maxAmbientCoolSetPoint { value kind }
        minAmbientCoolSetPoint { value kind }
        maxAmbientTempSetpoint { value kind }
        minAmbientTempSetpoint { value kind }
      }
      ... on HeatingFloorThermostat {
        ambientHumidity
        gDState
        version
        zigbeeVersion
        thermostatType
        floorMode
        power { value kind }
        ambientTemperature { value kind }
        ambientTempSetpoint { value kind }
        maxAmbientTempSetpoint { value kind }
        minAmbientTempSetpoint { value kind }
        floorLimit { value }
      }
      ... on WaterHeater {
        gDState
        version
        zigbeeVersion
        state
        ccrType
        alerts
        probeTemp { value kind }
        power { value kind }
      }
      ... on BasicChargeController {
        gDState
        version
        zigbeeVersion
        state
        ccrMode
        ccrAllowedModes
        power { value kind }
      }
      ... on BasicEVCharger {
        status
        power { value kind }
      }
      ... on BasicSwitch {
        state
        power { value kind }
      }
      ... on BasicLight {
        state
        hue
        level
        saturation
        colorTemperature
        lightType
      }
      ... on BasicDimmer {
        state
        level
        power { value kind }
      }
    }
  }
}`

const SubscriptionDeviceUpdated = `subscription onAnyDeviceUpdated($locationHiloId: String!) {
  onAnyDeviceUpdated(locationHiloId: $locationHiloId) {
    deviceType
    locationHiloId
    transmissionTime
    operationId
    device {
      deviceType
      hiloId
      physicalAddress
      connectionStatus
      ... on Gateway {
        controllerSoftwareVersion
        lastConnectionTime
        willBeConnectedToSmartMeter
        zigBeeChannel
        zigBeePairingModeEnhanced
        smartMeterZigBeeChannel
        smartMeterPairingStatus
      }
      ... on BasicSmartMeter {
        zigBeeChannel
        power { value kind }
      }
      ... on BasicThermostat {
        ambientHumidity
        gDState
        version
        zigbeeVersion
        heatDemand
        mode
        allowedModes
        power { value kind }
        ambientTemperature { value kind }
        ambientTempSetpoint { value kind }
        maxAmbientTempSetpoint { value kind }
        minAmbientTempSetpoint { value kind }
      }
      ... on LowVoltageThermostat {
        ambientHumidity
        gDState
        version
        zigbeeVersion
        fanMode
        fanSpeed
        mode
        currentState
        allowedModes
        fanAllowedModes
        power { value kind }
        coolTempSetpoint { value }
        ambientTemperature { value kind }
        ambientTempSetpoint { value kind }
        maxAmbientCoolSetPoint { value kind }
        minAmbientCoolSetPoint { value kind }
        maxAmbientTempSetpoint { value kind }
        minAmbientTempSetpoint { value kind }
      }
      ... on HeatingFloorThermostat {
        ambientHumidity
        gDState
        version
        zigbeeVersion
        thermostatType
        floorMode
        power { value kind }
        ambientTemperature { value kind }
        ambientTempSetpoint { value kind }
        maxAmbientTempSetpoint { value kind }
        minAmbientTempSetpoint { value kind }
        floorLimit { value }
      }
      ... on WaterHeater {
        gDState
        version
        zigbeeVersion
        state
        ccrType
        alerts
        probeTemp { value kind }
        power { value kind }
      }
      ... on BasicChargeController {
        gDState
        version
        zigbeeVersion
        state
        ccrMode
        ccrAllowedModes
        power { value kind }
      }
      ... on BasicEVCharger {
        status
        power { value kind }
      }
      ... on BasicSwitch {
        state
        power { value kind }
      }
      ... on BasicLight {
        state
        hue
        level
        saturation
        colorTemperature
        lightType
      }
      ... on BasicDimmer {
        state
        level
        power { value kind }
      }
    }
  }
}`

const SubscriptionLocationUpdated = `subscription onAnyLocationUpdated($locationHiloId: String!) {
  onAnyLocationUpdated(locationHiloId: $locationHiloId) {
    locationHiloId
    deviceType
    transmissionTime
    operationId
    location {
      ... on Container {
        hiloId
        devices {
          deviceType
          hiloId
          physicalAddress
          connectionStatus
          ... on BasicChargeController {
            connectionStatus
          }
          ... on LowVoltageThermostat {
            connectionStatus
          }
        }
      }
    }
  }
}`
